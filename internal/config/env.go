package config

import (
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// envPrefix is the SERVERSENTRY_ environment override convention (spec
// §6): SERVERSENTRY_SYSTEM_CHECK_INTERVAL overrides system.check_interval,
// dots replaced by underscores, case-insensitive.
const envPrefix = "SERVERSENTRY_"

// ApplyEnvOverrides walks cfg's yaml-tagged fields and applies any
// matching SERVERSENTRY_-prefixed entry from environ (the os.Environ()
// format "KEY=VALUE"), using spf13/cast to coerce strings onto the
// field's actual type.
func ApplyEnvOverrides(cfg *Config, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(key)
		if !strings.HasPrefix(upper, envPrefix) {
			continue
		}
		env[upper] = value
	}
	if len(env) == 0 {
		return
	}
	walkAndApply(reflect.ValueOf(cfg).Elem(), "", env)
}

func walkAndApply(v reflect.Value, pathPrefix string, env map[string]string) {
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("yaml")
		name := strings.Split(tag, ",")[0]
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		path := name
		if pathPrefix != "" {
			path = pathPrefix + "_" + name
		}

		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			walkAndApply(fv, path, env)
			continue
		}

		envKey := envPrefix + strings.ToUpper(path)
		raw, ok := env[envKey]
		if !ok {
			continue
		}
		setFromString(fv, raw)
	}
}

func setFromString(fv reflect.Value, raw string) {
	if !fv.CanSet() {
		return
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		if b, err := cast.ToBoolE(raw); err == nil {
			fv.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, err := cast.ToInt64E(raw); err == nil {
			fv.SetInt(n)
		}
	case reflect.Float32, reflect.Float64:
		if f, err := cast.ToFloat64E(raw); err == nil {
			fv.SetFloat(f)
		}
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.String {
			parts := splitList(raw)
			fv.Set(reflect.ValueOf(parts))
		}
	}
}
