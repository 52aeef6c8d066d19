package engine

import (
	"fmt"
	"strings"

	"gobatis"
)

// settingSetters is the allow-list spec.md §3/§6 requires: "settings keys
// restricted to those for which Configuration exposes a setter." Each
// entry's key is the gobatis.yaml settings key (matching MyBatis' own
// lowerCamelCase names); an unrecognized key is a ParseError rather than
// a silently-ignored typo.
var settingSetters = map[string]func(*gobatis.Settings, interface{}) error{
	"mapUnderscoreToCamelCase": boolSetter(func(s *gobatis.Settings, v bool) { s.MapUnderscoreToCamelCase = v }),
	"useGeneratedKeys":         boolSetter(func(s *gobatis.Settings, v bool) { s.UseGeneratedKeys = v }),
	"cacheEnabled":             boolSetter(func(s *gobatis.Settings, v bool) { s.CacheEnabled = v }),
	"lazyLoadingEnabled":       boolSetter(func(s *gobatis.Settings, v bool) { s.LazyLoadingEnabled = v }),
	"safeRowBoundsEnabled":     boolSetter(func(s *gobatis.Settings, v bool) { s.SafeRowBoundsEnabled = v }),
	"callSettersOnNulls":       boolSetter(func(s *gobatis.Settings, v bool) { s.CallSettersOnNulls = v }),
	"shrinkWhitespacesInSql":   boolSetter(func(s *gobatis.Settings, v bool) { s.ShrinkWhitespacesInSql = v }),
	"nullableOnForEach":        boolSetter(func(s *gobatis.Settings, v bool) { s.NullableOnForEach = v }),
	"useActualParamName":       boolSetter(func(s *gobatis.Settings, v bool) { s.UseActualParamName = v }),
	"useColumnLabel":           boolSetter(func(s *gobatis.Settings, v bool) { s.UseColumnLabel = v }),
	"argNameBasedConstructorAutoMapping": boolSetter(func(s *gobatis.Settings, v bool) {
		s.ArgNameBasedConstructorAutoMapping = v
	}),
	"defaultStatementTimeout": intSetter(func(s *gobatis.Settings, v int) { s.DefaultStatementTimeout = v }),
	"defaultFetchSize":        intSetter(func(s *gobatis.Settings, v int) { s.DefaultFetchSize = v }),
	"defaultExecutorType": func(s *gobatis.Settings, v interface{}) error {
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("defaultExecutorType must be a string, got %T", v)
		}
		switch str {
		case "SIMPLE", "REUSE", "BATCH":
			s.DefaultExecutorType = str
			return nil
		default:
			return fmt.Errorf("defaultExecutorType must be one of SIMPLE, REUSE, BATCH, got %q", str)
		}
	},
	"localCacheScope": func(s *gobatis.Settings, v interface{}) error {
		scope, err := parseLocalCacheScope(v)
		if err != nil {
			return err
		}
		s.LocalCacheScope = scope
		return nil
	},
	"autoMappingBehavior": func(s *gobatis.Settings, v interface{}) error {
		behavior, err := parseAutoMappingBehavior(v)
		if err != nil {
			return err
		}
		s.AutoMappingBehavior = behavior
		return nil
	},
}

func boolSetter(set func(*gobatis.Settings, bool)) func(*gobatis.Settings, interface{}) error {
	return func(s *gobatis.Settings, v interface{}) error {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected a bool, got %T", v)
		}
		set(s, b)
		return nil
	}
}

func intSetter(set func(*gobatis.Settings, int)) func(*gobatis.Settings, interface{}) error {
	return func(s *gobatis.Settings, v interface{}) error {
		switch n := v.(type) {
		case int:
			set(s, n)
			return nil
		case int64:
			set(s, int(n))
			return nil
		case float64:
			set(s, int(n))
			return nil
		default:
			return fmt.Errorf("expected an integer, got %T", v)
		}
	}
}

func parseLocalCacheScope(v interface{}) (gobatis.LocalCacheScope, error) {
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("localCacheScope must be a string, got %T", v)
	}
	switch str {
	case "SESSION":
		return gobatis.LocalCacheSession, nil
	case "STATEMENT":
		return gobatis.LocalCacheStatement, nil
	default:
		return 0, fmt.Errorf("localCacheScope must be SESSION or STATEMENT, got %q", str)
	}
}

func parseAutoMappingBehavior(v interface{}) (gobatis.AutoMappingBehavior, error) {
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("autoMappingBehavior must be a string, got %T", v)
	}
	switch str {
	case "NONE":
		return gobatis.AutoMappingNone, nil
	case "PARTIAL":
		return gobatis.AutoMappingPartial, nil
	case "FULL":
		return gobatis.AutoMappingFull, nil
	default:
		return 0, fmt.Errorf("autoMappingBehavior must be NONE, PARTIAL or FULL, got %q", str)
	}
}

// settingSettersLower indexes settingSetters by lower-cased key: viper
// normalizes every config key to lower case before it reaches Unmarshal, so
// the gobatis.yaml lowerCamelCase keys (e.g. "localCacheScope") arrive here
// as "localcachescope".
var settingSettersLower = func() map[string]func(*gobatis.Settings, interface{}) error {
	m := make(map[string]func(*gobatis.Settings, interface{}) error, len(settingSetters))
	for key, setter := range settingSetters {
		m[strings.ToLower(key)] = setter
	}
	return m
}()

// applySettings overlays raw (the gobatis.yaml "settings:" map, already
// viper-decoded into plain Go values) onto base, which starts from
// DefaultSettings(). Any key outside settingSetters is a ParseError.
func applySettings(base *gobatis.Settings, raw map[string]interface{}) error {
	for key, value := range raw {
		setter, ok := settingSettersLower[strings.ToLower(key)]
		if !ok {
			return &gobatis.ParseError{Context: fmt.Sprintf("unknown settings key %q", key)}
		}
		if err := setter(base, value); err != nil {
			return &gobatis.ParseError{Context: fmt.Sprintf("settings key %q", key), Cause: err}
		}
	}
	return nil
}
