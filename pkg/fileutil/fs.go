package fileutil

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileSystem は実ファイルシステムと埋め込みファイルシステムを統一的に扱うインターフェース
type FileSystem interface {
	// ReadFile はファイルの内容を読み込む（大文字小文字を無視）
	ReadFile(name string) ([]byte, error)
	// List はベースパス直下で拡張子が一致するファイルを返す
	List(exts ...string) ([]string, error)
	// BasePath はベースパスを返す
	BasePath() string
	// IsEmbedded は埋め込みファイルシステムかどうかを返す
	IsEmbedded() bool
}

// dirFS は fs.FS の上にベースパスと大文字小文字を無視した検索を載せる
type dirFS struct {
	fsys     fs.FS
	basePath string
	embedded bool
}

func (d *dirFS) ReadFile(name string) ([]byte, error) {
	actual, err := d.find(name)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(d.fsys, actual)
}

func (d *dirFS) List(exts ...string) ([]string, error) {
	return ListByExtension(d.fsys, ".", exts...)
}

func (d *dirFS) BasePath() string { return d.basePath }

func (d *dirFS) IsEmbedded() bool { return d.embedded }

func (d *dirFS) find(name string) (string, error) {
	// 先頭の "/" や "\" を除去
	clean := strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	clean = path.Clean(clean)

	// まず直接アクセスを試みる
	if _, err := fs.Stat(d.fsys, clean); err == nil {
		return clean, nil
	}
	return FindFileCaseInsensitive(d.fsys, path.Dir(clean), path.Base(clean))
}

// RealFS は実ファイルシステムへのアクセスを提供する
type RealFS struct {
	dirFS
}

// NewRealFS は実ファイルシステム用のFileSystemを作成する
func NewRealFS(basePath string) *RealFS {
	if basePath == "" {
		basePath = "."
	}
	return &RealFS{dirFS{fsys: os.DirFS(basePath), basePath: basePath}}
}

// Path はベースパスからの相対名を実際のパスに変換する
func (r *RealFS) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.basePath, name)
}

// EmbedFS は埋め込みファイルシステムへのアクセスを提供する
type EmbedFS struct {
	dirFS
}

// NewEmbedFS は埋め込みファイルシステム用のFileSystemを作成する。
// basePath は fsys 内のディレクトリ。
func NewEmbedFS(fsys fs.FS, basePath string) (*EmbedFS, error) {
	sub := fsys
	if basePath != "" && basePath != "." {
		var err error
		if sub, err = fs.Sub(fsys, basePath); err != nil {
			return nil, err
		}
	}
	return &EmbedFS{dirFS{fsys: sub, basePath: basePath, embedded: true}}, nil
}
