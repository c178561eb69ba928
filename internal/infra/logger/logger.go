package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sifan077/PinRadar/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Options drives how the zap logger is built.
type Options struct {
	Development bool
	Level       string
	Encoding    string
}

// FromConfig maps the log section onto Options. Development defaults to
// colored console output.
func FromConfig(cfg config.LogConfig, development bool) Options {
	opts := Options{Development: development, Level: cfg.Level, Encoding: cfg.Encoding}
	if opts.Encoding == "" {
		if development {
			opts.Encoding = "console"
		} else {
			opts.Encoding = "json"
		}
	}
	return opts
}

var (
	mu     sync.RWMutex
	global *zap.Logger
	colors = stdoutIsTerminal()
)

// Init builds the process logger and installs it as the global one.
func Init(opts Options) (*zap.Logger, error) {
	l, err := New(opts)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		_ = global.Sync()
	}
	global = l
	zap.ReplaceGlobals(l)
	return l, nil
}

// MustInit panics if the logger cannot be built.
func MustInit(opts Options) *zap.Logger {
	l, err := Init(opts)
	if err != nil {
		panic(err)
	}
	return l
}

// L returns the global logger, falling back to a development logger.
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		dev, err := zap.NewDevelopment()
		if err != nil {
			global = zap.NewNop()
		} else {
			global = dev
		}
	}
	return global
}
