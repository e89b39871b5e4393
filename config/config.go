// SPDX-License-Identifier: ice License 1.0

package config

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

//nolint:gochecknoinits // Because we load the configs once, for the whole runtime
func init() {
	loadFirstApplicationConfigFile()
	dotEnvPath := `.env`
	for range 5 {
		if err := godotenv.Load(dotEnvPath); err == nil {
			break
		}
		dotEnvPath = fmt.Sprintf(`../%v`, dotEnvPath)
	}
}

func MustLoadFromKey(key string, cfg any) {
	if err := viper.UnmarshalKey(key, cfg); err != nil {
		log.Panic(errors.Wrapf(err, "failed to load config by key %q", key))
	}
}

// MustLoadFromKeyWithDefaults loads the config and fills every zero field from defaults.
func MustLoadFromKeyWithDefaults[T any](key string, cfg, defaults *T) {
	MustLoadFromKey(key, cfg)
	if err := mergo.Merge(cfg, defaults); err != nil {
		log.Panic(errors.Wrapf(err, "failed to merge defaults for config key %q", key))
	}
}

// Env returns the first non-empty env variable out of `<APPLICATION_KEY>_<suffix>` and `<suffix>`.
func Env(applicationYAMLKey, suffix string) string {
	module := strings.ToUpper(strings.NewReplacer("-", "_", "/", "_", ".", "_").Replace(applicationYAMLKey))
	if val := os.Getenv(module + "_" + suffix); val != "" {
		return val
	}

	return os.Getenv(suffix)
}

func loadFirstApplicationConfigFile() {
	for _, f := range findAllApplicationConfigFiles() {
		viper.SetConfigFile(f)
		if err := viper.ReadInConfig(); err == nil {
			return
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Panic(err)
		}
	}

	log.Panic(errors.New("could not find any application.yaml files"))
}

func findAllApplicationConfigFiles() []string {
	var files []string
	var hints []string

	if p, err := os.Getwd(); err == nil {
		hints = append(hints, p)
	}
	if p, err := os.Executable(); err == nil {
		hints = append(hints, path.Dir(filepath.Join(p, "..")))
	}

	for _, dir := range hints {
		files = append(files, glob(filepath.Join(dir, ".testdata", "application.yaml"))...)
		files = append(files, glob(filepath.Join(dir, "application.yaml"))...)
	}
	//nolint:dogsled // Because those 3 blank identifiers are useless
	_, callerFile, _, _ := runtime.Caller(0)
	for _, up := range []string{"..", filepath.Join("..", "..")} {
		files = append(files, glob(filepath.Join(filepath.Dir(callerFile), up, "application.yaml"))...)
	}

	return files
}

func glob(pattern string) []string {
	f, err := filepath.Glob(pattern)
	if err != nil {
		log.Println(errors.Wrapf(err, "glob failed for [%v]", pattern))
	}

	return f
}
