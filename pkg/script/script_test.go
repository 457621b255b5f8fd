package script

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/zurustar/kumiki/pkg/fileutil"
	"github.com/zurustar/kumiki/pkg/tree"
)

const counterYAML = `process:
  - - element: process
      scope:
        - element: box-number
          args:
            name: {element: text, value: a}
            value: {element: number, value: 0}
        - element: print
          args:
            value: {element: variable, value: a}
crumbs:
  - - element: operator-plus
      args:
        a: {element: number, value: 1}
        b: null
`

func TestDecode_YAML(t *testing.T) {
	p, err := Decode([]byte(counterYAML), FormatYAML, EncodingUTF8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p.Process) != 1 || len(p.Process[0]) != 1 {
		t.Fatalf("process chains = %v", p.Process)
	}
	proc := p.Process[0][0]
	if proc.Element != "process" || len(proc.Scope) != 2 {
		t.Fatalf("process block = %+v", proc)
	}
	if got := proc.Scope[0].Args["name"].Value; got != "a" {
		t.Errorf("box name = %v", got)
	}

	plus := p.Crumbs[0][0]
	b, ok := plus.Args["b"]
	if !ok || b != nil {
		t.Errorf("empty slot should decode as a nil entry, got %v (present=%v)", b, ok)
	}
}

func TestDecode_JSON(t *testing.T) {
	data := `{"process":[[{"element":"print","args":{"value":{"element":"number","value":3}}}]]}`
	p, err := Decode([]byte(data), FormatJSON, EncodingUTF8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Process[0][0].Args["value"].Value; got != 3.0 {
		t.Errorf("value = %v (%T)", got, got)
	}

	if _, err := Decode([]byte(`{"proces":[]}`), FormatJSON, EncodingUTF8); err == nil {
		t.Error("unknown field accepted")
	}
}

func TestDecode_ShiftJIS(t *testing.T) {
	src := "crumbs:\n  - - element: text\n      value: こんにちは\n"
	sjis, _, err := transform.String(japanese.ShiftJIS.NewEncoder(), src)
	if err != nil {
		t.Fatalf("failed to encode test data: %v", err)
	}

	if _, err := Decode([]byte(sjis), FormatYAML, EncodingUTF8); err == nil {
		t.Error("Shift-JIS bytes accepted as UTF-8")
	}

	p, err := Decode([]byte(sjis), FormatYAML, EncodingShiftJIS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Crumbs[0][0].Value; got != "こんにちは" {
		t.Errorf("value = %q", got)
	}
}

func TestEncodeDecode(t *testing.T) {
	p := &tree.Program{
		Process: []tree.Chain{{
			{Element: "repeat", Args: map[string]*tree.Snapshot{
				"times": {Element: "number", Value: 3.0},
			}, Scope: tree.Chain{
				{Element: "print", Args: map[string]*tree.Snapshot{"value": nil}},
			}},
		}},
	}

	for _, format := range []Format{FormatYAML, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(p, format)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(data, format, EncodingUTF8)
			if err != nil {
				t.Fatalf("Decode: %v\n%s", err, data)
			}
			scope := got.Process[0][0].Scope
			if len(scope) != 1 || scope[0].Element != "print" {
				t.Fatalf("scope = %v", scope)
			}
			if v, ok := scope[0].Args["value"]; !ok || v != nil {
				t.Errorf("empty slot lost: %v", scope[0].Args)
			}
		})
	}
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"a.yaml", FormatYAML, false},
		{"a.YML", FormatYAML, false},
		{"dir/a.Json", FormatJSON, false},
		{"a.tfy", "", true},
		{"a", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatOf(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]Encoding{
		"":          EncodingUTF8,
		"UTF-8":     EncodingUTF8,
		"shift_jis": EncodingShiftJIS,
		"Shift-JIS": EncodingShiftJIS,
		"sjis":      EncodingShiftJIS,
	} {
		got, err := ParseEncoding(in)
		if err != nil || got != want {
			t.Errorf("ParseEncoding(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseEncoding("euc-jp"); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}

func TestLoader(t *testing.T) {
	fsys := fstest.MapFS{
		"programs/Counter.YAML": {Data: []byte(counterYAML)},
		"programs/empty.json":   {Data: []byte(`{}`)},
		"programs/notes.txt":    {Data: []byte("-")},
	}
	embedded, err := fileutil.NewEmbedFS(fsys, "programs")
	if err != nil {
		t.Fatalf("NewEmbedFS: %v", err)
	}
	loader := NewLoaderFS(embedded, "")

	names, err := loader.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"Counter.YAML", "empty.json"}) {
		t.Errorf("List = %v", names)
	}

	t.Run("without extension", func(t *testing.T) {
		s, err := loader.Load("counter")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if s.FileName != "counter.yaml" || s.Format != FormatYAML {
			t.Errorf("FileName=%q Format=%q", s.FileName, s.Format)
		}
		if s.Size != int64(len(counterYAML)) {
			t.Errorf("Size = %d", s.Size)
		}
		if len(s.Program.Process) != 1 {
			t.Errorf("process chains = %d", len(s.Program.Process))
		}
	})

	t.Run("json", func(t *testing.T) {
		s, err := loader.Load("empty.json")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if s.Format != FormatJSON {
			t.Errorf("Format = %q", s.Format)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := loader.Load("nothing"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := loader.Load("notes.txt")
		if err == nil || !strings.Contains(err.Error(), "unsupported program file") {
			t.Errorf("err = %v", err)
		}
	})
}

func TestSaveFileLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	p, err := Decode([]byte(counterYAML), FormatYAML, EncodingUTF8)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	for _, name := range []string{"out.yaml", "out.json"} {
		path := filepath.Join(tmpDir, name)
		if err := SaveFile(path, p); err != nil {
			t.Fatalf("SaveFile(%s): %v", name, err)
		}
		s, err := LoadFile(path, EncodingUTF8)
		if err != nil {
			t.Fatalf("LoadFile(%s): %v", name, err)
		}
		if len(s.Program.Process[0][0].Scope) != 2 {
			t.Errorf("%s: scope lost", name)
		}
	}

	if err := SaveFile(filepath.Join(tmpDir, "out.txt"), p); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "out.txt")); !os.IsNotExist(err) {
		t.Error("file written despite error")
	}
}
