// Package engine is the bootstrap layer spec.md §6 describes as the
// `<configuration>` XML document: it reads a gobatis.yaml/gobatis.json
// file through viper, builds a Configuration from its settings and
// environments sections, loads every mapper document the mappers section
// lists, and opens a DataSource for the selected environment. Grounded on
// geeorm.Engine/NewEngine, generalized from one driver+DSN pair to a
// multi-environment, mapper-registry-driven bootstrap.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/spf13/viper"

	"gobatis"
	"gobatis/builder"
	"gobatis/cachelayer"
	"gobatis/executor"
	"gobatis/gobatislog"
	"gobatis/session"
)

// Engine owns the database handle and Configuration a process builds once
// at startup and shares across every session it opens afterward (spec.md
// §3's Configuration lifetime).
type Engine struct {
	db     *sql.DB
	config *gobatis.Configuration
}

// environmentDoc mirrors one entry of the gobatis.yaml "environments:" map.
type environmentDoc struct {
	Driver string `mapstructure:"driver"`
	Source string `mapstructure:"source"`
}

// rootDoc mirrors the full gobatis.yaml document shape spec.md §6
// describes: settings, environments (keyed by id, one marked default),
// and the list of mapper resource paths to load.
type rootDoc struct {
	Properties   map[string]string         `mapstructure:"properties"`
	Settings     map[string]interface{}    `mapstructure:"settings"`
	Environments map[string]environmentDoc `mapstructure:"environments"`
	Default      string                    `mapstructure:"default"`
	Mappers      []string                  `mapstructure:"mappers"`
}

// Open reads configPath (YAML or JSON, detected by viper from its
// extension) and loads the mapper documents it lists from mapperFS — the
// Resources collaborator contract (spec.md §1), backed by io/fs.FS so
// mappers can come from disk (os.DirFS) or an embed.FS.
func Open(configPath string, mapperFS fs.FS) (*Engine, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, &gobatis.ParseError{Context: "reading " + configPath, Cause: err}
	}
	return Load(v, mapperFS)
}

// Load builds an Engine from an already-populated viper instance, the
// entrypoint Open delegates to and tests drive directly with an in-memory
// config (viper.New + SetConfigType + ReadConfig(strings.NewReader(...))).
func Load(v *viper.Viper, mapperFS fs.FS) (*Engine, error) {
	var doc rootDoc
	if err := v.Unmarshal(&doc); err != nil {
		return nil, &gobatis.ParseError{Context: "decoding configuration", Cause: err}
	}

	config := gobatis.NewConfiguration()
	for k, v := range doc.Properties {
		config.Variables[k] = v
	}
	if err := applySettings(&config.Settings, doc.Settings); err != nil {
		return nil, err
	}

	env, err := resolveEnvironment(doc)
	if err != nil {
		return nil, err
	}
	config.EnvironmentID = env.id

	db, err := sql.Open(env.driver, env.source)
	if err != nil {
		gobatislog.Error(err)
		return nil, &gobatis.ExecutorError{Msg: fmt.Sprintf("opening %s data source: %v", env.driver, err)}
	}
	if err := db.Ping(); err != nil {
		gobatislog.Error(err)
		return nil, &gobatis.ExecutorError{Msg: fmt.Sprintf("pinging %s data source: %v", env.driver, err)}
	}
	gobatislog.Infof("connected to environment %q (%s)", env.id, env.driver)

	aliases := builder.NewTypeAliasRegistry()
	mb := builder.NewMapperBuilder(config, aliases, newCacheFunc)
	for _, path := range doc.Mappers {
		data, err := fs.ReadFile(mapperFS, path)
		if err != nil {
			return nil, &gobatis.ParseError{Context: "reading mapper " + path, Cause: err}
		}
		if err := mb.Build(data); err != nil {
			return nil, err
		}
	}

	// Retry pass over forward references (cache-refs, result-map extends,
	// deferred statements, mapper-method checks) now that every document
	// has had its eager pass; anything still unresolved fails the load.
	if errs := config.ResolveIncomplete(); len(errs) > 0 {
		for _, err := range errs {
			gobatislog.Error(err)
		}
		return nil, errs[0]
	}

	return &Engine{db: db, config: config}, nil
}

// newCacheFunc is the builder.NewCacheFunc hook every <cache> element
// resolves through; it wires cachelayer's decorator stack with the
// defaults a bare <cache/> (no attributes) gets in MyBatis.
func newCacheFunc(id string, attrs map[string]string) (gobatis.CacheRegion, error) {
	opts := cachelayer.BuildOptionsFromAttrs(attrs, nil)
	return cachelayer.New(id, opts), nil
}

type resolvedEnvironment struct {
	id     string
	driver string
	source string
}

func resolveEnvironment(doc rootDoc) (resolvedEnvironment, error) {
	if len(doc.Environments) == 0 {
		return resolvedEnvironment{}, &gobatis.ParseError{Context: "configuration declares no environments"}
	}
	id := doc.Default
	if id == "" {
		if len(doc.Environments) != 1 {
			return resolvedEnvironment{}, &gobatis.ParseError{Context: "multiple environments declared but no default chosen"}
		}
		for only := range doc.Environments {
			id = only
		}
	}
	env, ok := doc.Environments[id]
	if !ok {
		return resolvedEnvironment{}, &gobatis.ParseError{Context: fmt.Sprintf("default environment %q not declared", id)}
	}
	if env.Driver == "" || env.Source == "" {
		return resolvedEnvironment{}, &gobatis.ParseError{Context: fmt.Sprintf("environment %q missing driver/source", id)}
	}
	return resolvedEnvironment{id: id, driver: env.Driver, source: env.Source}, nil
}

// Close releases the underlying *sql.DB. It is rare to call: the handle
// is meant to be long-lived and shared across every session.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Configuration exposes the registry every NewSession shares.
func (e *Engine) Configuration() *gobatis.Configuration { return e.config }

func (e *Engine) executorKind() executor.Kind {
	switch e.config.Settings.DefaultExecutorType {
	case "REUSE":
		return executor.Reuse
	case "BATCH":
		return executor.Batch
	default:
		return executor.Simple
	}
}

// NewSession opens a session against the Engine's shared *sql.DB, the
// non-transactional analog of Transaction below.
func (e *Engine) NewSession() *session.SqlSession {
	exec := executor.New(e.executorKind(), e.db, e.config, gobatis.NewTypeHandlerRegistry(), e.db)
	return session.New(e.config, exec)
}

// TxFunc is the unit of work Transaction runs against a session whose
// executor is backed by a single *sql.Tx.
type TxFunc func(*session.SqlSession) (interface{}, error)

// Transaction begins a *sql.Tx, runs tf against a session backed by it,
// and commits or rolls back depending on tf's outcome — a panic inside tf
// rolls back and re-panics, mirroring geeorm.Engine.Transaction.
func (e *Engine) Transaction(ctx context.Context, tf TxFunc) (result interface{}, err error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &gobatis.ExecutorError{Msg: fmt.Sprintf("beginning transaction: %v", err)}
	}
	exec := executor.New(e.executorKind(), tx, e.config, gobatis.NewTypeHandlerRegistry(), tx)
	sess := session.New(e.config, exec)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	result, err = tf(sess)
	return result, err
}
