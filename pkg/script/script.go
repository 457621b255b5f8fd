// Package script reads and writes program snapshot files.
package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"

	"github.com/zurustar/kumiki/pkg/fileutil"
	"github.com/zurustar/kumiki/pkg/tree"
)

// Format はスナップショットファイルの形式
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Encoding はファイルの文字コード
type Encoding string

const (
	EncodingUTF8     Encoding = "utf-8"
	EncodingShiftJIS Encoding = "shift_jis"
)

// Extensions はプログラムファイルとして扱う拡張子
var Extensions = []string{".yaml", ".yml", ".json"}

// ParseEncoding は文字コード名を解釈する
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "_")) {
	case "", "utf_8", "utf8":
		return EncodingUTF8, nil
	case "shift_jis", "sjis", "shiftjis":
		return EncodingShiftJIS, nil
	default:
		return "", fmt.Errorf("unsupported encoding: %s", name)
	}
}

// FormatOf は拡張子から形式を判定する（大文字小文字を無視）
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported program file: %s (want .yaml, .yml or .json)", name)
	}
}

// Script は読み込んだプログラムファイルを表す
type Script struct {
	FileName string        // ファイル名
	Format   Format        // 形式
	Size     int64         // ファイルサイズ
	Program  *tree.Program // デコード済みのプログラム
}

// Loader はプログラムファイルの読み込みを行う
type Loader struct {
	fs       fileutil.FileSystem
	encoding Encoding
}

// NewLoader は実ファイルシステム上の dir を読むLoaderを作成
func NewLoader(dir string, encoding Encoding) *Loader {
	return NewLoaderFS(fileutil.NewRealFS(dir), encoding)
}

// NewLoaderFS は任意のFileSystemを読むLoaderを作成
func NewLoaderFS(fsys fileutil.FileSystem, encoding Encoding) *Loader {
	if encoding == "" {
		encoding = EncodingUTF8
	}
	return &Loader{fs: fsys, encoding: encoding}
}

// List はプログラムファイル名の一覧を返す
func (l *Loader) List() ([]string, error) {
	files, err := l.fs.List(Extensions...)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs in %s: %w", l.fs.BasePath(), err)
	}
	return files, nil
}

// Load は name を読み込んでデコードする。拡張子のない名前は
// Extensions の順に補って検索する。
func (l *Loader) Load(name string) (*Script, error) {
	candidates := []string{name}
	if filepath.Ext(name) == "" {
		candidates = candidates[:0]
		for _, ext := range Extensions {
			candidates = append(candidates, name+ext)
		}
	}

	var lastErr error
	for _, candidate := range candidates {
		format, err := FormatOf(candidate)
		if err != nil {
			return nil, err
		}
		data, err := l.fs.ReadFile(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		p, err := Decode(data, format, l.encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", candidate, err)
		}
		return &Script{
			FileName: filepath.Base(candidate),
			Format:   format,
			Size:     int64(len(data)),
			Program:  p,
		}, nil
	}
	return nil, fmt.Errorf("failed to read program %s: %w", name, lastErr)
}

// LoadFile はパスを直接指定して読み込む
func LoadFile(path string, encoding Encoding) (*Script, error) {
	return NewLoader(filepath.Dir(path), encoding).Load(filepath.Base(path))
}

// Decode は data をプログラムとして解釈する
func Decode(data []byte, format Format, encoding Encoding) (*tree.Program, error) {
	if encoding == EncodingShiftJIS {
		converted, err := convertShiftJISToUTF8(data)
		if err != nil {
			return nil, err
		}
		data = converted
	} else if !utf8.Valid(data) {
		return nil, fmt.Errorf("input is not valid UTF-8 (try --encoding shift_jis)")
	}

	p := &tree.Program{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(p); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return p, nil
}

// Encode はプログラムを format で書き出す。出力は常にUTF-8。
func Encode(p *tree.Program, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return nil, fmt.Errorf("failed to encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}

// SaveFile はプログラムを拡張子に応じた形式で path に書き出す
func SaveFile(path string, p *tree.Program) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := Encode(p, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// convertShiftJISToUTF8 Shift-JISからUTF-8に変換
func convertShiftJISToUTF8(data []byte) ([]byte, error) {
	reader := transform.NewReader(bytes.NewReader(data), japanese.ShiftJIS.NewDecoder())
	utf8Data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Shift-JIS: %w", err)
	}
	return utf8Data, nil
}
