package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/zurustar/kumiki/pkg/cli"
	"github.com/zurustar/kumiki/pkg/debugger"
	"github.com/zurustar/kumiki/pkg/element"
	"github.com/zurustar/kumiki/pkg/fileutil"
	"github.com/zurustar/kumiki/pkg/library"
	"github.com/zurustar/kumiki/pkg/logger"
	"github.com/zurustar/kumiki/pkg/scope"
	"github.com/zurustar/kumiki/pkg/script"
	"github.com/zurustar/kumiki/pkg/store"
	"github.com/zurustar/kumiki/pkg/tree"
	"github.com/zurustar/kumiki/pkg/vm"
)

// Application はアプリケーションのメインロジックを管理する
type Application struct {
	config  *cli.Config
	log     *slog.Logger
	bundled fs.FS // 同梱プログラム（nil可）
	stdout  io.Writer
	stderr  io.Writer

	// newReader はデバッガの入力を作る。テストで差し替える。
	newReader func(prompt, history string) (debugger.LineReader, error)
}

// New Applicationを作成。bundled はルートに同梱プログラムを持つファイルシステム。
func New(bundled fs.FS) *Application {
	return &Application{
		bundled: bundled,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		newReader: func(prompt, history string) (debugger.LineReader, error) {
			return debugger.NewReadline(prompt, history)
		},
	}
}

// Run アプリケーションを実行
func (app *Application) Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return app.RunContext(ctx, args)
}

// RunContext は ctx が終わると実行を中断する
func (app *Application) RunContext(ctx context.Context, args []string) error {
	// 1. コマンドライン引数の解析
	if err := app.parseArgs(args); err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}

	if app.config.ShowHelp {
		cli.PrintHelp(app.stdout)
		return nil
	}

	// 2. ロガーの初期化
	if err := app.initLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.log.Debug("Application started", "program", app.config.ProgramPath, "load", app.config.Load)

	// 3. 一覧表示
	if app.config.List {
		return app.list(ctx)
	}

	// 4. プログラムの読み込み
	program, err := app.loadProgram(ctx)
	if err != nil {
		return fmt.Errorf("failed to load program: %w", err)
	}

	// 5. 構文木の再構築
	tr, err := app.buildTree(program)
	if err != nil {
		return fmt.Errorf("failed to build program: %w", err)
	}

	// 6. ストアへの保存
	if app.config.Save != "" {
		if err := app.save(ctx, program); err != nil {
			return err
		}
	}

	root, err := app.selectRoot(tr)
	if err != nil {
		return err
	}

	// 7. 実行
	switch {
	case app.config.Check:
		return app.check(tr, root)
	case app.config.Step:
		return app.debug(ctx, tr, root)
	default:
		return app.execute(ctx, tr, root)
	}
}

// parseArgs コマンドライン引数を解析
func (app *Application) parseArgs(args []string) error {
	config, err := cli.ParseArgs(args)
	if err != nil {
		return err
	}
	app.config = config
	return nil
}

// initLogger ロガーを初期化
func (app *Application) initLogger() error {
	if err := logger.InitLoggerTo(app.stderr, app.config.LogLevel, app.config.LogFormat); err != nil {
		return err
	}
	app.log = logger.GetLogger()
	return nil
}

func (app *Application) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, app.config.DBPath, store.WithLogger(app.log))
}

// bundledLoader は同梱プログラムのLoaderを返す
func (app *Application) bundledLoader() (*script.Loader, error) {
	if app.bundled == nil {
		return nil, nil
	}
	embedded, err := fileutil.NewEmbedFS(app.bundled, ".")
	if err != nil {
		return nil, err
	}
	return script.NewLoaderFS(embedded, app.config.Encoding), nil
}

// list 同梱プログラムとストアの一覧を表示
func (app *Application) list(ctx context.Context) error {
	if loader, err := app.bundledLoader(); err != nil {
		return err
	} else if loader != nil {
		names, err := loader.List()
		if err != nil {
			return err
		}
		fmt.Fprintln(app.stdout, "Bundled programs:")
		for _, name := range names {
			fmt.Fprintf(app.stdout, "  %s\n", name)
		}
	}

	st, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.List(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.stdout, "Stored programs (%s):\n", app.config.DBPath)
	if len(entries) == 0 {
		fmt.Fprintln(app.stdout, "  (none)")
	}
	for _, e := range entries {
		fmt.Fprintf(app.stdout, "  %-20s %6d bytes  updated %s\n", e.Name, e.Size, e.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

// loadProgram ファイル、同梱プログラム、ストアのいずれかから読み込む
func (app *Application) loadProgram(ctx context.Context) (*tree.Program, error) {
	if app.config.Load != "" {
		st, err := app.openStore(ctx)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		return st.Load(ctx, app.config.Load)
	}

	path := app.config.ProgramPath
	s, err := script.LoadFile(path, app.config.Encoding)
	if err == nil {
		app.log.Info("Program loaded", "file", s.FileName, "format", s.Format, "size", s.Size)
		return s.Program, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// ディスクにない場合は同梱プログラムを探す
	loader, lerr := app.bundledLoader()
	if lerr != nil || loader == nil {
		return nil, err
	}
	bs, berr := loader.Load(path)
	if berr != nil {
		return nil, err
	}
	app.log.Info("Bundled program loaded", "name", bs.FileName, "size", bs.Size)
	return bs.Program, nil
}

// buildTree は標準ライブラリの要素で構文木を組み立てる
func (app *Application) buildTree(p *tree.Program) (*tree.Tree, error) {
	catalog := library.NewCatalog()
	tr := tree.New(catalog, element.NewWarehouse(catalog), tree.WithLogger(app.log))
	if err := tr.Rebuild(p); err != nil {
		return nil, err
	}
	app.log.Debug("Program rebuilt",
		"nodes", tr.Len(),
		"process", len(tr.Roots(tree.Process)),
		"routine", len(tr.Roots(tree.Routine)),
		"crumbs", len(tr.Roots(tree.Crumbs)))
	return tr, nil
}

func (app *Application) save(ctx context.Context, p *tree.Program) error {
	st, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	if _, err := st.Save(ctx, app.config.Save, p); err != nil {
		return err
	}
	return nil
}

func (app *Application) selectRoot(tr *tree.Tree) (tree.NodeID, error) {
	sel := app.config.Root
	roots := tr.Roots(sel.List)
	if sel.Index >= len(roots) {
		return tree.None, fmt.Errorf("no root %s: the program has %d %s roots", sel, len(roots), sel.List)
	}
	return roots[sel.Index], nil
}

// check 事前検証を行い、各命令の引数評価順を表示
func (app *Application) check(tr *tree.Tree, root tree.NodeID) error {
	if err := vm.ValidateRoot(tr, root); err != nil {
		return err
	}

	n, err := tr.Node(root)
	if err != nil {
		return err
	}
	if n.Kind().IsArgument() {
		order, err := vm.FlattenArgumentOrder(tr, root)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.stdout, "%s#%s: %s\n", n.Element(), root, joinElements(append(order, nil), n.Element()))
		return nil
	}
	if err := app.printOrder(tr, root, 0); err != nil {
		return err
	}
	fmt.Fprintln(app.stdout, "OK")
	return nil
}

func (app *Application) printOrder(tr *tree.Tree, head tree.NodeID, depth int) error {
	for _, id := range tr.Sequence(head) {
		n, err := tr.Node(id)
		if err != nil {
			return err
		}
		order, err := vm.FlattenArgumentOrder(tr, id)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s%s#%s", strings.Repeat("  ", depth), n.Element(), id)
		if len(order) > 0 {
			line += ": " + joinElements(order, "")
		}
		fmt.Fprintln(app.stdout, line)

		if inner := n.Inner(); !inner.IsZero() {
			if err := app.printOrder(tr, inner, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// joinElements は要素名を空白区切りで並べる。nil は last で置き換える。
func joinElements(order []element.Instance, last string) string {
	names := make([]string, len(order))
	for i, inst := range order {
		if inst == nil {
			names[i] = last
			continue
		}
		names[i] = inst.Element()
	}
	return strings.Join(names, " ")
}

func (app *Application) interpreterOptions() []vm.Option {
	opts := []vm.Option{
		vm.WithLogger(app.log),
		vm.WithOutput(app.stdout),
		vm.WithTimeout(app.config.Timeout),
		vm.WithMaxSteps(app.config.MaxSteps),
	}
	if app.config.Trace {
		n := 0
		opts = append(opts, vm.WithStepHook(func(st vm.Step) error {
			n++
			app.log.Debug("step", "n", n, "step", st.String())
			return nil
		}))
	}
	return opts
}

// execute はルートを最後まで実行する。引数ルートは値を表示する。
func (app *Application) execute(ctx context.Context, tr *tree.Tree, root tree.NodeID) error {
	in := vm.New(tr, app.interpreterOptions()...)
	sc := scope.NewStack()

	n, err := tr.Node(root)
	if err != nil {
		return err
	}
	if n.Kind().IsArgument() {
		v, err := in.Evaluate(ctx, root, sc)
		if err != nil {
			return err
		}
		fmt.Fprintln(app.stdout, v)
		return nil
	}

	if err := in.Run(ctx, root, sc); err != nil {
		return err
	}
	app.log.Debug("Program finished", "root", root.String())
	return nil
}

// debug は対話デバッガで実行する
func (app *Application) debug(ctx context.Context, tr *tree.Tree, root tree.NodeID) error {
	reader, err := app.newReader("(kumiki) ", app.config.HistoryFile)
	if err != nil {
		return fmt.Errorf("failed to open prompt: %w", err)
	}
	defer reader.Close()

	d := debugger.New(tr, reader, app.stdout,
		debugger.WithLogger(app.log),
		debugger.WithInterpreterOptions(app.interpreterOptions()...))
	err = d.Run(ctx, root, scope.NewStack())
	if errors.Is(err, debugger.ErrQuit) {
		return nil
	}
	return err
}
