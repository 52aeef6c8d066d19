package gobatis

import (
	"fmt"
	"strings"
	"sync"

	"gobatis/gobatislog"
)

// Settings holds the process-wide flags spec.md §3 lists on Configuration.
type Settings struct {
	MapUnderscoreToCamelCase bool
	UseGeneratedKeys         bool
	CacheEnabled             bool
	LazyLoadingEnabled       bool
	DefaultExecutorType      string // "SIMPLE" | "REUSE" | "BATCH"
	DefaultStatementTimeout  int
	DefaultFetchSize         int
	LocalCacheScope          LocalCacheScope
	SafeRowBoundsEnabled     bool
	AutoMappingBehavior      AutoMappingBehavior
	CallSettersOnNulls       bool
	ShrinkWhitespacesInSql   bool
	NullableOnForEach        bool
	UseActualParamName       bool
	UseColumnLabel           bool
	ArgNameBasedConstructorAutoMapping bool
}

// DefaultSettings mirrors MyBatis' documented defaults.
func DefaultSettings() Settings {
	return Settings{
		CacheEnabled:        true,
		LazyLoadingEnabled:  false,
		DefaultExecutorType: "SIMPLE",
		LocalCacheScope:     LocalCacheSession,
		AutoMappingBehavior: AutoMappingPartial,
		UseColumnLabel:      true,
	}
}

// incompleteQueues are the four forward-reference retry lists spec.md
// §3/§4.G describe: cache-refs, result-maps, statements, methods.
type incompleteQueues struct {
	cacheRefs  []func() error
	resultMaps []func() error
	statements []func() error
	methods    []func() error
}

// Configuration is the process-wide, long-lived registry every session
// shares (spec.md §3). It is treated as immutable once the mapper
// registry finishes its build-and-retry pass (§4.G); the only
// shared-mutable state it holds afterward is the cache regions, which are
// internally synchronized.
type Configuration struct {
	mu sync.RWMutex

	Settings      Settings
	Variables     map[string]string
	EnvironmentID string

	typeAliases map[string]interface{}

	caches            map[string]CacheRegion
	parameterMaps     map[string]*ParameterMap
	resultMaps        map[string]*ResultMap
	mappedStatements  map[string]*MappedStatement
	keyGenerators     map[string]KeyGenerator
	loadedResources   map[string]bool
	sqlFragments      map[string]interface{} // builder's parsed *xmlElem fragments, kept as interface{} to avoid import cycle

	plugins []Interceptor

	incomplete incompleteQueues
}

// NewConfiguration builds an empty, default-settings Configuration.
func NewConfiguration() *Configuration {
	return &Configuration{
		Settings:         DefaultSettings(),
		Variables:        map[string]string{},
		typeAliases:      map[string]interface{}{},
		caches:           map[string]CacheRegion{},
		parameterMaps:    map[string]*ParameterMap{},
		resultMaps:       map[string]*ResultMap{},
		mappedStatements: map[string]*MappedStatement{},
		keyGenerators:    map[string]KeyGenerator{},
		loadedResources:  map[string]bool{},
		sqlFragments:     map[string]interface{}{},
	}
}

// Interceptor is one entry of the plugin chain (spec.md §4.I); defined
// here (not in plugin/) so Configuration can hold the ordered list without
// an import cycle. plugin.Chain implements the wrapping logic over this
// interface.
type Interceptor interface {
	Intercept(invocation Invocation) (interface{}, error)
	Signatures() []Signature
}

// Signature names one (target kind, method) pair an Interceptor wants to
// see, over the four permitted target kinds (spec.md §4.I).
type Signature struct {
	Target TargetKind
	Method string
}

type TargetKind int

const (
	TargetExecutor TargetKind = iota
	TargetParameterHandler
	TargetResultSetHandler
	TargetStatementHandler
)

// Invocation is the reified method call an Interceptor observes/replaces.
type Invocation struct {
	Target TargetKind
	Method string
	Args   []interface{}
	Proceed func() (interface{}, error)
}

// AddInterceptor appends to the plugin chain, in registration order
// (spec.md §4.I: interceptors fold as target = interceptor.wrap(target)
// across all interceptors, in the order they were added).
func (c *Configuration) AddInterceptor(i Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins = append(c.plugins, i)
}

// Interceptors returns the registered plugin chain.
func (c *Configuration) Interceptors() []Interceptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Interceptor, len(c.plugins))
	copy(out, c.plugins)
	return out
}

// --- Cache regions -----------------------------------------------------

func (c *Configuration) AddCache(region CacheRegion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caches[region.ID()] = region
}

func (c *Configuration) GetCache(id string) (CacheRegion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.caches[id]
	return r, ok
}

// AddCacheRef installs namespace's cache region as a pointer to
// referencedNamespace's already-built region (spec.md §3/§4.H cache-ref
// sharing), queueing as incomplete if the referenced region isn't built
// yet.
func (c *Configuration) AddCacheRef(namespace, referencedNamespace string) error {
	c.mu.Lock()
	region, ok := c.caches[referencedNamespace]
	if !ok {
		c.mu.Unlock()
		c.incomplete.cacheRefs = append(c.incomplete.cacheRefs, func() error {
			return c.AddCacheRef(namespace, referencedNamespace)
		})
		return &IncompleteElementError{Kind: "cache-ref", ID: namespace, Hint: "referenced namespace " + referencedNamespace + " has no cache yet"}
	}
	c.caches[namespace] = region
	c.mu.Unlock()
	return nil
}

// --- Result maps --------------------------------------------------------

// AddResultMap registers rm, qualifying its id with defaultNamespace if it
// carries none, resolving Extends eagerly when possible or queueing it as
// an IncompleteElementError otherwise (spec.md §4.G).
func (c *Configuration) AddResultMap(rm *ResultMap, defaultNamespace string) error {
	rm.ID = Qualify(rm.ID, defaultNamespace)
	if rm.Extends != "" {
		rm.Extends = Qualify(rm.Extends, defaultNamespace)
	}
	return c.resolveResultMap(rm)
}

func (c *Configuration) resolveResultMap(rm *ResultMap) error {
	c.mu.Lock()
	if rm.Extends != "" {
		parent, ok := c.resultMaps[rm.Extends]
		if !ok {
			c.mu.Unlock()
			c.incomplete.resultMaps = append(c.incomplete.resultMaps, func() error {
				return c.resolveResultMap(rm)
			})
			return &IncompleteElementError{Kind: "result-map", ID: rm.ID, Hint: "parent " + rm.Extends + " not yet registered"}
		}
		rm.Mappings = mergeResultMappings(parent, rm)
		if rm.Discriminator == nil {
			rm.Discriminator = parent.Discriminator
		}
	}
	rm.Partition()
	c.resultMaps[rm.ID] = rm
	c.mu.Unlock()

	if err := c.resolveNestedResultMaps(rm); err != nil {
		return err
	}

	if rm.Discriminator != nil {
		var incomplete error
		for value, caseID := range rm.Discriminator.CaseMap {
			if err := c.compileDiscriminatorCase(rm, value, caseID); err != nil {
				incomplete = err
			}
		}
		if incomplete != nil {
			return incomplete
		}
	}
	return nil
}

// resolveNestedResultMaps fills in the NestedResultMap pointer for every
// <association>/<collection> mapping that named its nested map by id
// (spec.md §3 ResultMapping): the referenced map may be declared later in
// the same document, so an unresolved reference is queued on the same
// incomplete.resultMaps retry list as parent-extension references.
func (c *Configuration) resolveNestedResultMaps(rm *ResultMap) error {
	namespace := namespaceOf(rm.ID)
	for i := range rm.Mappings {
		m := &rm.Mappings[i]
		if m.NestedResultMapID == "" || m.NestedResultMap != nil {
			continue
		}
		qualified := Qualify(m.NestedResultMapID, namespace)
		c.mu.RLock()
		nested, ok := c.resultMaps[qualified]
		c.mu.RUnlock()
		if !ok {
			c.incomplete.resultMaps = append(c.incomplete.resultMaps, func() error {
				return c.resolveNestedResultMaps(rm)
			})
			return &IncompleteElementError{Kind: "result-map", ID: rm.ID, Hint: "nested result map " + qualified + " not yet registered"}
		}
		m.NestedResultMap = nested
	}
	rm.Partition()
	return nil
}

// mergeResultMappings implements spec.md §4.G's extension rule: the
// child's constructor mappings suppress the parent's; other mappings are
// unioned with child priority.
func mergeResultMappings(parent, child *ResultMap) []ResultMapping {
	childHasCtor := false
	for _, m := range child.Mappings {
		if m.IsConstructorArg {
			childHasCtor = true
			break
		}
	}

	seen := map[string]bool{}
	var out []ResultMapping
	for _, m := range child.Mappings {
		seen[m.Property] = true
		out = append(out, m)
	}
	for _, m := range parent.Mappings {
		if m.IsConstructorArg && childHasCtor {
			continue
		}
		if seen[m.Property] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// compileDiscriminatorCase builds the synthetic per-case result map
// "{parent}-{value}" per spec.md §4.G: the enclosing map's mappings plus
// the case-specific ones referenced by caseID (if caseID itself names an
// already-registered full result map, its own mappings are unioned in
// too; if it only names a bare id with no separate declaration yet, the
// parent's mappings alone are used as the synthetic case).
func (c *Configuration) compileDiscriminatorCase(parent *ResultMap, value, caseID string) error {
	qualifiedCase := Qualify(caseID, namespaceOf(parent.ID))
	synthID := fmt.Sprintf("%s-%s", parent.ID, value)

	c.mu.RLock()
	caseMap, ok := c.resultMaps[qualifiedCase]
	c.mu.RUnlock()

	synth := &ResultMap{ID: synthID, Type: parent.Type}
	synth.Mappings = append(synth.Mappings, parent.Mappings...)
	if ok {
		synth.Type = caseMap.Type
		synth.Mappings = append(synth.Mappings, caseMap.Mappings...)
	}
	synth.Partition()

	c.mu.Lock()
	c.resultMaps[synthID] = synth
	c.mu.Unlock()

	if !ok {
		// The case map may be declared later (possibly in another document);
		// retry then so the synthetic map picks up its mappings. The
		// parent-only synthetic registered above stands until it does.
		c.incomplete.resultMaps = append(c.incomplete.resultMaps, func() error {
			return c.compileDiscriminatorCase(parent, value, caseID)
		})
		return &IncompleteElementError{Kind: "result-map", ID: qualifiedCase, Hint: "discriminator case not yet registered"}
	}
	return nil
}

func (c *Configuration) GetResultMap(id string) (*ResultMap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rm, ok := c.resultMaps[id]
	return rm, ok
}

// --- Parameter maps -------------------------------------------------------

func (c *Configuration) AddParameterMap(pm *ParameterMap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parameterMaps[pm.ID] = pm
}

func (c *Configuration) GetParameterMap(id string) (*ParameterMap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pm, ok := c.parameterMaps[id]
	return pm, ok
}

// --- Mapped statements ---------------------------------------------------

func (c *Configuration) AddMappedStatement(ms *MappedStatement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappedStatements[ms.ID] = ms
}

func (c *Configuration) GetMappedStatement(id string) (*MappedStatement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms, ok := c.mappedStatements[id]
	return ms, ok
}

func (c *Configuration) HasMappedStatement(id string) bool {
	_, ok := c.GetMappedStatement(id)
	return ok
}

// --- Key generators -------------------------------------------------------

func (c *Configuration) AddKeyGenerator(id string, kg KeyGenerator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyGenerators[id] = kg
}

func (c *Configuration) GetKeyGenerator(id string) (KeyGenerator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kg, ok := c.keyGenerators[id]
	return kg, ok
}

// --- SQL fragments (<sql> elements, for <include>) -----------------------

func (c *Configuration) AddSqlFragment(id string, node interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sqlFragments[id] = node
}

func (c *Configuration) GetSqlFragment(id string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.sqlFragments[id]
	return n, ok
}

// --- Incomplete-element retry loop (spec.md §4.G) -------------------------

// DeferStatement queues a statement-build retry whose forward references
// (include refids, resultMap ids) have not all registered yet. The retry
// must re-queue itself when it fails with another IncompleteElementError;
// ResolveIncomplete relies on that to measure progress.
func (c *Configuration) DeferStatement(retry func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incomplete.statements = append(c.incomplete.statements, retry)
}

// DeferMethod queues a mapper-method binding check (a bound field whose
// statement id has no registration yet). Same self-requeue contract as
// DeferStatement.
func (c *Configuration) DeferMethod(retry func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incomplete.methods = append(c.incomplete.methods, retry)
}

// ResolveIncomplete drains the four queues repeatedly until a pass makes
// no progress, then reports every entry that still failed. Every queued
// retry re-queues itself when it fails with an IncompleteElementError, so
// a pass made progress exactly when it shrank the queue.
func (c *Configuration) ResolveIncomplete() []error {
	var allErrs []error
	drain := func(queue *[]func() error) {
		for {
			c.mu.Lock()
			pending := *queue
			*queue = nil
			c.mu.Unlock()
			if len(pending) == 0 {
				return
			}
			var stuck []error
			for _, retry := range pending {
				if err := retry(); err != nil {
					if _, ok := err.(*IncompleteElementError); ok {
						stuck = append(stuck, err)
						continue
					}
					allErrs = append(allErrs, err)
				}
			}
			if len(stuck) == len(pending) {
				for _, err := range stuck {
					allErrs = append(allErrs, &ParseError{Context: "incomplete element never resolved", Cause: err})
				}
				c.mu.Lock()
				*queue = nil
				c.mu.Unlock()
				return
			}
		}
	}
	drain(&c.incomplete.cacheRefs)
	drain(&c.incomplete.resultMaps)
	drain(&c.incomplete.statements)
	drain(&c.incomplete.methods)
	return allErrs
}

// Qualify applies spec.md §4.G's name-resolution rule: an id without a '.'
// is qualified with defaultNamespace; a dotted id is returned unchanged.
func Qualify(id, defaultNamespace string) string {
	if strings.Contains(id, ".") {
		return id
	}
	if defaultNamespace == "" {
		return id
	}
	return defaultNamespace + "." + id
}

func namespaceOf(id string) string {
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[:i]
	}
	return ""
}

// Log exposes the package logger so other packages that accept a
// Configuration don't each need their own import of gobatislog for
// startup diagnostics.
func (c *Configuration) Log(msg string) { gobatislog.Info(msg) }
