// SPDX-License-Identifier: ice License 1.0
//go:build stdlog

package log

import (
	"fmt"
	"log"
	"strings"

	"github.com/pkg/errors"

	"github.com/wpbe/wintr/config"
)

// .
var (
	//nolint:gochecknoglobals // Immutable singleton.
	appCfg cfg
	//nolint:gochecknoglobals // Immutable singleton.
	levels = map[string]int{debug: 0, info: 1, warn: 2, "error": 3}
)

//nolint:gochecknoinits // log is global, so it's initialization can be done in init
func init() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix | log.LUTC | log.Lshortfile | log.Lmicroseconds)
	config.MustLoadFromKey("logger", &appCfg)
	if appCfg.Level == "" {
		appCfg.Level = info
	}
}

func enabled(level string) bool {
	return levels[level] >= levels[strings.ToLower(appCfg.Level)]
}

func printf(level, msg string, fields []any) {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(level))
	sb.WriteString(": ")
	sb.WriteString(msg)
	for i := 0; i+1 < len(fields); i += 2 {
		sb.WriteString(fmt.Sprintf(" %v=%v", fields[i], fields[i+1]))
	}
	log.Output(3, sb.String()) //nolint:errcheck,mnd,gomnd // Nothing to do with it; skip the helpers.
}

func Error(err error, fields ...any) {
	if err == nil {
		return
	}
	printf("error", err.Error(), fields)
}

func Debug(msg string, fields ...any) {
	if enabled(debug) {
		printf(debug, msg, fields)
	}
}

func Info(msg string, fields ...any) {
	if enabled(info) {
		printf(info, msg, fields)
	}
}

func Warn(msg string, fields ...any) {
	if enabled(warn) {
		printf(warn, msg, fields)
	}
}

func Panic(anything any, fields ...any) {
	if anything == nil {
		return
	}
	var err error
	switch obj := anything.(type) {
	case error:
		err = obj
	case string:
		err = errors.New(obj)
	default:
		err = errors.Errorf("%#v", obj)
	}
	printf("panic", err.Error(), fields)

	panic(err)
}

func Level() string {
	return appCfg.Level
}
