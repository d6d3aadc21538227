package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable.
const EnvPrefix = "WEBSCREENSHOTS"

// FileName is the config file base name searched for in the working
// directory; viper tries every extension it supports.
const FileName = "webscreenshots"

// envKeys lists every configuration path readable from the environment.
var envKeys = []string{
	"url",
	"outputDir",
	"outputPattern",
	"routes",
	"browserOptions.headless",
	"browserOptions.args",
	"browserOptions.engine",
	"browserOptions.navigationTimeoutMs",
	"browserOptions.userAgent",
	"captureOptions.fullPage",
	"captureOptions.imageType",
	"captureOptions.quality",
	"viewports",
	"crawl",
	"crawlOptions.crawlLimit",
	"crawlOptions.excludeRoutes",
	"crawlOptions.dynamicRoutesLimit",
	"crawlOptions.linkSource",
	"crawlOptions.requestsPerSecond",
	"retryOptions.maxAttempts",
	"retryOptions.delayMs",
	"authOptions.method",
	"authOptions.basic.username",
	"authOptions.basic.password",
	"authOptions.cookiesPath",
	"authOptions.form.loginUrl",
	"authOptions.form.inputs",
	"authOptions.form.submit",
	"authOptions.form.errorSelector",
	"authOptions.form.successSelector",
	"authOptions.form.timeoutMs",
	"authOptions.token.header",
	"authOptions.token.value",
	"metricsFile",
}

// envAliases are extra variable names accepted for a key.
var envAliases = map[string][]string{
	"authOptions.form.timeoutMs": {EnvPrefix + "__AUTHOPTIONS__FORM__TIMEOUT_MS"},
}

// EnvName returns the environment variable that feeds key,
// e.g. captureOptions.fullPage -> WEBSCREENSHOTS__CAPTUREOPTIONS__FULLPAGE.
func EnvName(key string) string {
	return EnvPrefix + "__" + strings.ToUpper(strings.ReplaceAll(key, ".", "__"))
}

// FileResult describes the outcome of the file layer.
type FileResult struct {
	Layer Partial
	Path  string
	Found bool
}

// LoadFile reads the config file layer. With an explicit path the file must
// exist and parse. Without one, webscreenshots.{json,yaml,yml,toml} is looked
// up in dir and its absence is not an error.
func LoadFile(path, dir string) (FileResult, error) {
	v := viper.New()
	explicit := strings.TrimSpace(path) != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		if dir == "" {
			dir = "."
		}
		v.SetConfigName(FileName)
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && errors.As(err, &notFound) {
			return FileResult{}, nil
		}
		return FileResult{}, fmt.Errorf("load config from %s: %w", describePath(path, dir), err)
	}

	var layer Partial
	if err := v.Unmarshal(&layer, viper.DecodeHook(decodeHooks())); err != nil {
		return FileResult{}, fmt.Errorf("decode config file %s: %w", v.ConfigFileUsed(), err)
	}
	inputs, err := fileFormInputs(v)
	if err != nil {
		return FileResult{}, fmt.Errorf("decode config file %s: %w", v.ConfigFileUsed(), err)
	}
	if inputs != nil && layer.AuthOptions != nil && layer.AuthOptions.Form != nil {
		layer.AuthOptions.Form.Inputs = inputs
	}
	used := v.ConfigFileUsed()
	if abs, err := filepath.Abs(used); err == nil {
		used = abs
	}
	return FileResult{Layer: layer, Path: used, Found: true}, nil
}

// LoadDotenv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadEnv reads the environment layer. Empty variables count as unset.
func LoadEnv() (Partial, error) {
	v := viper.New()
	for _, key := range envKeys {
		names := append([]string{EnvName(key)}, envAliases[key]...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Partial{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	var layer Partial
	if err := v.Unmarshal(&layer, viper.DecodeHook(decodeHooks())); err != nil {
		return Partial{}, fmt.Errorf("decode %s__* environment: %w", EnvPrefix, err)
	}
	return layer, nil
}

func describePath(path, dir string) string {
	if path != "" {
		return path
	}
	return filepath.Join(dir, FileName)
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		jsonStringHook(),
		formInputsHook(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// jsonStringHook decodes JSON-encoded strings into structured targets, which
// is how lists of objects travel through environment variables.
func jsonStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Slice, reflect.Map, reflect.Struct:
		default:
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if !strings.HasPrefix(raw, "[") && !strings.HasPrefix(raw, "{") {
			return data, nil
		}
		if to == formInputsType && strings.HasPrefix(raw, "{") {
			return jsonObjectInputs([]byte(raw))
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("parse JSON value: %w", err)
		}
		return decoded, nil
	}
}

var formInputsType = reflect.TypeOf([]FormInput(nil))

// formInputsHook drops a selector->value map that viper has already decoded.
// Its keys are case-folded by then, so LoadFile restores it from the raw file.
func formInputsHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != formInputsType || from.Kind() != reflect.Map {
			return data, nil
		}
		return []FormInput(nil), nil
	}
}
