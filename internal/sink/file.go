package sink

import (
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/telenode/internal/config"
)

// File appends records to a size-rotated file.
type File struct {
	mu sync.Mutex
	lj *lumberjack.Logger
}

// NewFile creates a rotating record file.
func NewFile(fc config.FileOutputConfig) *File {
	return &File{
		lj: &lumberjack.Logger{
			Filename:   fc.Path,
			MaxSize:    fc.Rotation.MaxSizeMB,
			MaxBackups: fc.Rotation.MaxBackups,
			MaxAge:     fc.Rotation.MaxAgeDays,
			Compress:   fc.Rotation.Compress,
		},
	}
}

func (f *File) Name() string { return "file" }

func (f *File) Write(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.lj.Write([]byte(line + "\n"))
	return err
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lj.Close()
}
