// Package library is the standard set of block elements: literals,
// variables, operators, output, variable boxes and control blocks.
//
// Control blocks do not manipulate the traversal themselves. They raise
// override signals through env.Control and let the linearizer redirect.
package library

import (
	"github.com/zurustar/kumiki/pkg/element"
)

// Element names.
const (
	Number  = "number"
	Text    = "text"
	Boolean = "boolean"

	Variable = "variable"
	Plus     = "operator-plus"
	Minus    = "operator-minus"
	Times    = "operator-times"
	Divide   = "operator-divide"
	Modulo   = "operator-modulo"
	Equal    = "compare-equal"
	Less     = "compare-less"
	Greater  = "compare-greater"
	And      = "logic-and"
	Or       = "logic-or"
	Not      = "logic-not"
	Join     = "text-join"

	Print     = "print"
	BoxNumber = "box-number"
	BoxText   = "box-text"
	Break     = "break"
	Continue  = "continue"

	ProcessBlock = "process"
	RoutineBlock = "routine"
	Repeat       = "repeat"
	If           = "if"
	While        = "while"
	Local        = "local"
)

var (
	numbers  = []element.Type{element.TypeNumber}
	texts    = []element.Type{element.TypeText}
	booleans = []element.Type{element.TypeBoolean}
	anything = []element.Type{element.TypeAny}
)

func slot(name string, accepts []element.Type) element.ArgSpec {
	return element.ArgSpec{Name: name, Accepts: accepts}
}

type entry struct {
	spec    element.Spec
	factory element.Factory
}

func entries() []entry {
	binaryEntry := func(name string, accepts, returns []element.Type, op binaryOp) entry {
		return entry{
			spec: element.Spec{
				Name:    name,
				Kind:    element.KindExpression,
				Args:    []element.ArgSpec{slot("a", accepts), slot("b", accepts)},
				Returns: returns,
			},
			factory: func() element.Instance { return &binary{name: name, op: op} },
		}
	}

	return []entry{
		{element.Spec{Name: Number, Kind: element.KindData, Returns: numbers},
			func() element.Instance { return &numberLiteral{} }},
		{element.Spec{Name: Text, Kind: element.KindData, Returns: texts},
			func() element.Instance { return &textLiteral{} }},
		{element.Spec{Name: Boolean, Kind: element.KindData, Returns: booleans},
			func() element.Instance { return &booleanLiteral{} }},

		{element.Spec{Name: Variable, Kind: element.KindExpression, Returns: anything},
			func() element.Instance { return &variable{} }},
		binaryEntry(Plus, numbers, numbers, add),
		binaryEntry(Minus, numbers, numbers, subtract),
		binaryEntry(Times, numbers, numbers, multiply),
		binaryEntry(Divide, numbers, numbers, divide),
		binaryEntry(Modulo, numbers, numbers, modulo),
		binaryEntry(Equal, anything, booleans, equal),
		binaryEntry(Less, numbers, booleans, less),
		binaryEntry(Greater, numbers, booleans, greater),
		binaryEntry(And, booleans, booleans, and),
		binaryEntry(Or, booleans, booleans, or),
		binaryEntry(Join, anything, texts, join),
		{element.Spec{Name: Not, Kind: element.KindExpression, Args: []element.ArgSpec{slot("value", booleans)}, Returns: booleans},
			func() element.Instance { return &not{} }},

		{element.Spec{Name: Print, Kind: element.KindStatement, Args: []element.ArgSpec{slot("value", anything)}},
			func() element.Instance { return &printer{} }},
		{element.Spec{Name: BoxNumber, Kind: element.KindStatement, Args: []element.ArgSpec{slot("name", texts), slot("value", numbers)}},
			func() element.Instance { return &box{name: BoxNumber, typ: element.TypeNumber} }},
		{element.Spec{Name: BoxText, Kind: element.KindStatement, Args: []element.ArgSpec{slot("name", texts), slot("value", texts)}},
			func() element.Instance { return &box{name: BoxText, typ: element.TypeText} }},
		{element.Spec{Name: Break, Kind: element.KindStatement, Cap: true},
			func() element.Instance { return &jump{name: Break, sig: element.BreakLoop} }},
		{element.Spec{Name: Continue, Kind: element.KindStatement, Cap: true},
			func() element.Instance { return &jump{name: Continue, sig: element.ContinueLoop} }},

		{element.Spec{Name: ProcessBlock, Kind: element.KindBlock, Hat: true},
			func() element.Instance { return &frameBlock{name: ProcessBlock} }},
		{element.Spec{Name: RoutineBlock, Kind: element.KindBlock, Hat: true, Args: []element.ArgSpec{slot("name", texts)}},
			func() element.Instance { return &frameBlock{name: RoutineBlock} }},
		{element.Spec{Name: Local, Kind: element.KindBlock},
			func() element.Instance { return &frameBlock{name: Local} }},
		{element.Spec{Name: Repeat, Kind: element.KindBlock, Loop: true, Args: []element.ArgSpec{slot("times", numbers)}},
			func() element.Instance { return &repeat{} }},
		{element.Spec{Name: If, Kind: element.KindBlock, Args: []element.ArgSpec{slot("condition", booleans)}},
			func() element.Instance { return &conditional{} }},
		{element.Spec{Name: While, Kind: element.KindBlock, Loop: true, Args: []element.ArgSpec{slot("condition", booleans)}},
			func() element.Instance { return &while{} }},
	}
}

// Register adds every library element to c.
func Register(c *element.Catalog) error {
	for _, e := range entries() {
		if err := c.Register(e.spec, e.factory); err != nil {
			return err
		}
	}
	return nil
}

// NewCatalog returns a catalog holding the whole library.
func NewCatalog() *element.Catalog {
	c := element.NewCatalog()
	if err := Register(c); err != nil {
		panic(err)
	}
	return c
}
