package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zurustar/kumiki/pkg/logger"
	"github.com/zurustar/kumiki/pkg/script"
	"github.com/zurustar/kumiki/pkg/tree"
)

// DefaultDB は --db も KUMIKI_DB も指定されていない場合のデータベース
const DefaultDB = "kumiki.db"

// Config はコマンドライン引数から解析された設定を保持する
type Config struct {
	ProgramPath string          // 実行するプログラムファイル（.yaml/.yml/.json）
	Root        RootSelector    // 実行するルート
	Check       bool            // 事前検証のみ
	Step        bool            // 対話デバッガで実行
	Trace       bool            // 全ステップをdebugログに出す
	Timeout     time.Duration   // タイムアウト時間（0は無制限）
	MaxSteps    int             // ステップ数の上限（0は無制限）
	LogLevel    string          // ログレベル（debug, info, warn, error）
	LogFormat   string          // ログ形式（text, json, auto）
	Encoding    script.Encoding // プログラムファイルの文字コード
	DBPath      string          // プログラムストアのパス
	Save        string          // この名前でストアに保存
	Load        string          // この名前のプログラムをストアから読み込む
	List        bool            // ストアの一覧を表示
	ConfigFile  string          // 設定ファイル
	HistoryFile string          // デバッガの履歴ファイル（設定ファイルのみ）
	ShowHelp    bool            // ヘルプ表示フラグ
}

// RootSelector はルートリストとその中の位置
type RootSelector struct {
	List  tree.RootList
	Index int
}

func (r RootSelector) String() string {
	return fmt.Sprintf("%s:%d", r.List, r.Index)
}

// ParseRoot は "process:0" 形式のルート選択子を解析する。位置を省略すると0。
func ParseRoot(s string) (RootSelector, error) {
	name, idx, hasIdx := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	sel := RootSelector{}
	switch name {
	case "process":
		sel.List = tree.Process
	case "routine":
		sel.List = tree.Routine
	case "crumbs":
		sel.List = tree.Crumbs
	default:
		return sel, fmt.Errorf("invalid root %q (must be process, routine or crumbs, optionally with :index)", s)
	}
	if hasIdx {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return sel, fmt.Errorf("invalid root index in %q", s)
		}
		sel.Index = n
	}
	return sel, nil
}

// FileConfig は設定ファイルの内容
type FileConfig struct {
	LogLevel       string `json:"log_level" yaml:"log_level"`
	LogFormat      string `json:"log_format" yaml:"log_format"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxSteps       int    `json:"max_steps" yaml:"max_steps"`
	Encoding       string `json:"encoding" yaml:"encoding"`
	DB             string `json:"db" yaml:"db"`
	HistoryFile    string `json:"history_file" yaml:"history_file"`
}

// LoadConfigFile は設定ファイルを読み込む。形式は拡張子で判定し、不明ならYAML。
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, fc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, fc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return fc, nil
}

// expandHome は先頭の ~ をホームディレクトリに展開する
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// boolFlags は値を取らないフラグ
var boolFlags = map[string]bool{
	"-h": true, "--help": true, "-help": true,
	"--check": true, "-check": true,
	"--step": true, "-step": true,
	"--trace": true, "-trace": true,
	"--list": true, "-list": true,
}

// ParseArgs コマンドライン引数を解析してConfigを返す。
// 優先順位はフラグ、環境変数、設定ファイル、既定値の順。
func ParseArgs(args []string) (*Config, error) {
	// 引数を並べ替え：フラグを前に、位置引数を後ろに
	reorderedArgs := reorderArgs(args)

	fs := flag.NewFlagSet("kumiki", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	config := &Config{}
	var root, encoding string
	var timeoutSec int

	fs.StringVar(&root, "root", "process:0", "実行するルート")
	fs.StringVar(&root, "r", "process:0", "実行するルート（短縮形）")
	fs.BoolVar(&config.Check, "check", false, "事前検証のみ")
	fs.BoolVar(&config.Step, "step", false, "対話デバッガで実行")
	fs.BoolVar(&config.Trace, "trace", false, "全ステップをログに出す")
	fs.IntVar(&timeoutSec, "timeout", 0, "タイムアウト時間（秒）")
	fs.IntVar(&timeoutSec, "t", 0, "タイムアウト時間（秒）（短縮形）")
	fs.IntVar(&config.MaxSteps, "max-steps", 0, "ステップ数の上限")
	fs.StringVar(&config.LogLevel, "log-level", "info", "ログレベル（debug, info, warn, error）")
	fs.StringVar(&config.LogLevel, "l", "info", "ログレベル（短縮形）")
	fs.StringVar(&config.LogFormat, "log-format", "auto", "ログ形式（text, json, auto）")
	fs.StringVar(&encoding, "encoding", "utf-8", "文字コード（utf-8, shift_jis）")
	fs.StringVar(&config.DBPath, "db", "", "プログラムストア")
	fs.StringVar(&config.Save, "save", "", "ストアに保存する名前")
	fs.StringVar(&config.Load, "load", "", "ストアから読み込む名前")
	fs.BoolVar(&config.List, "list", false, "ストアの一覧")
	fs.StringVar(&config.ConfigFile, "config", "", "設定ファイル")
	fs.BoolVar(&config.ShowHelp, "help", false, "ヘルプを表示")
	fs.BoolVar(&config.ShowHelp, "h", false, "ヘルプを表示（短縮形）")

	if err := fs.Parse(reorderedArgs); err != nil {
		return nil, err
	}
	if config.ShowHelp {
		return config, nil
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	timeoutSet := set["timeout"] || set["t"]
	levelSet := set["log-level"] || set["l"]

	// 設定ファイル（フラグで指定されたものだけを上書きしない）
	if config.ConfigFile == "" {
		config.ConfigFile = os.Getenv("KUMIKI_CONFIG")
	}
	if config.ConfigFile != "" {
		fc, err := LoadConfigFile(config.ConfigFile)
		if err != nil {
			return nil, err
		}
		if fc.LogLevel != "" && !levelSet {
			config.LogLevel = strings.ToLower(fc.LogLevel)
		}
		if fc.LogFormat != "" && !set["log-format"] {
			config.LogFormat = fc.LogFormat
		}
		if fc.TimeoutSeconds != 0 && !timeoutSet {
			timeoutSec = fc.TimeoutSeconds
		}
		if fc.MaxSteps != 0 && !set["max-steps"] {
			config.MaxSteps = fc.MaxSteps
		}
		if fc.Encoding != "" && !set["encoding"] {
			encoding = fc.Encoding
		}
		if fc.DB != "" && !set["db"] {
			config.DBPath = fc.DB
		}
		config.HistoryFile = expandHome(fc.HistoryFile)
	}

	// 環境変数からの設定（コマンドラインフラグが優先）
	if !timeoutSet {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}
	if !levelSet {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}
	if !set["db"] {
		if dbEnv := os.Getenv("KUMIKI_DB"); dbEnv != "" {
			config.DBPath = dbEnv
		}
	}
	if config.DBPath == "" {
		config.DBPath = DefaultDB
	}

	// 検証
	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second

	if config.MaxSteps < 0 {
		return nil, fmt.Errorf("max-steps must be non-negative, got %d", config.MaxSteps)
	}
	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		return nil, fmt.Errorf("%w (must be debug, info, warn, or error)", err)
	}
	switch config.LogFormat {
	case "text", "json", "auto":
	default:
		return nil, fmt.Errorf("invalid log format: %s (must be text, json, or auto)", config.LogFormat)
	}

	enc, err := script.ParseEncoding(encoding)
	if err != nil {
		return nil, err
	}
	config.Encoding = enc

	if config.Root, err = ParseRoot(root); err != nil {
		return nil, err
	}

	// 位置引数（プログラムファイル）
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("only one program file can be given, got %d", fs.NArg())
	}
	if fs.NArg() == 1 {
		config.ProgramPath = fs.Arg(0)
	}

	switch {
	case config.ProgramPath != "" && config.Load != "":
		return nil, fmt.Errorf("give either a program file or --load, not both")
	case config.ProgramPath == "" && config.Load == "" && !config.List:
		return nil, fmt.Errorf("no program given (pass a program file, --load NAME or --list)")
	case config.Check && config.Step:
		return nil, fmt.Errorf("--check and --step cannot be combined")
	}

	return config, nil
}

// reorderArgs 引数を並べ替えて、フラグを前に、位置引数を後ろに配置する
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// "--" 以降はすべて位置引数
		if arg == "--" {
			flags = append(flags, "--")
			return append(flags, append(positional, args[i+1:]...)...)
		}

		// フラグかどうかを判定（-または--で始まる）
		if len(arg) > 1 && arg[0] == '-' {
			flags = append(flags, arg)

			// -t 5 のように次の引数が値である場合
			if !strings.Contains(arg, "=") && !boolFlags[arg] &&
				i+1 < len(args) && len(args[i+1]) > 0 && args[i+1][0] != '-' {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}

	return append(flags, positional...)
}

// PrintHelp ヘルプメッセージを表示
func PrintHelp(w io.Writer) {
	fmt.Fprint(w, `kumiki - block program interpreter

Usage:
  kumiki [options] <program.yaml|program.json>
  kumiki [options] --load NAME
  kumiki --list

Arguments:
  program       プログラムファイル（YAML または JSON のスナップショット）

Options:
  -r, --root <list:index>     実行するルート: process, routine, crumbs（デフォルト: process:0）
  --check                     事前検証のみ行い、引数の評価順を表示
  --step                      対話デバッガで1ステップずつ実行
  --trace                     全ステップをdebugログに出力
  -t, --timeout <seconds>     指定秒数後に実行を中断（デフォルト: 無制限）
  --max-steps <n>             ステップ数の上限（デフォルト: 無制限）
  -l, --log-level <level>     ログレベル: debug, info, warn, error（デフォルト: info）
  --log-format <format>       ログ形式: text, json, auto（デフォルト: auto）
  --encoding <name>           プログラムファイルの文字コード: utf-8, shift_jis
  --db <path>                 プログラムストア（デフォルト: kumiki.db）
  --save <name>               読み込んだプログラムをストアに保存
  --load <name>               ストアのプログラムを実行
  --list                      ストアのプログラム一覧を表示
  --config <path>             設定ファイル（YAML または JSON）
  -h, --help                  このヘルプを表示

Environment Variables:
  TIMEOUT=<seconds>           タイムアウト時間（秒）
  LOG_LEVEL=<level>           ログレベル
  KUMIKI_DB=<path>            プログラムストア
  KUMIKI_CONFIG=<path>        設定ファイル

Examples:
  kumiki counter.yaml                 プログラムを実行
  kumiki --check counter.yaml         事前検証のみ
  kumiki --step counter.yaml          デバッガで実行
  kumiki --save counter counter.yaml  実行してストアに保存
  kumiki --load counter               ストアから実行
`)
}
