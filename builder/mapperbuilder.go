package builder

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"gobatis"
	"gobatis/keygen"
	"gobatis/reflectx"
)

// NewCacheFunc builds a gobatis.CacheRegion for a <cache> element's id and
// attributes. Builder takes this as a hook instead of importing cachelayer
// directly, so the two packages don't need to know about each other's
// construction details.
type NewCacheFunc func(id string, attrs map[string]string) (gobatis.CacheRegion, error)

// MapperBuilder parses one mapper XML document and registers its contents
// into a Configuration (spec.md §4.D/§4.G). One builder is reused across
// every document in an application so id collisions and forward references
// are caught at the Configuration level.
type MapperBuilder struct {
	Config     *gobatis.Configuration
	Aliases    *TypeAliasRegistry
	NewCache   NewCacheFunc
}

func NewMapperBuilder(cfg *gobatis.Configuration, aliases *TypeAliasRegistry, newCache NewCacheFunc) *MapperBuilder {
	return &MapperBuilder{Config: cfg, Aliases: aliases, NewCache: newCache}
}

// Build parses data as a <mapper namespace="..."> document and registers
// its <cache>/<cache-ref>/<sql>/<resultMap>/statement children.
func (b *MapperBuilder) Build(data []byte) error {
	root, err := parseXMLTree(data)
	if err != nil {
		return &gobatis.ParseError{Context: "mapper document", Cause: err}
	}
	if root.Tag != "mapper" {
		return &gobatis.ParseError{Context: fmt.Sprintf("expected <mapper>, got <%s>", root.Tag)}
	}
	namespace := root.Attrs["namespace"]
	if namespace == "" {
		return &gobatis.ParseError{Context: "mapper element missing namespace attribute"}
	}

	// <sql> fragments first: statements and other fragments may <include> them.
	for _, el := range root.childrenByTag("sql") {
		id := gobatis.Qualify(el.Attrs["id"], namespace)
		b.Config.AddSqlFragment(id, el)
	}

	if cacheEl := firstChild(root, "cache"); cacheEl != nil {
		if err := b.buildCache(namespace, cacheEl); err != nil {
			return err
		}
	}
	for _, el := range root.childrenByTag("cache-ref") {
		ref := gobatis.Qualify(el.Attrs["namespace"], namespace)
		if err := b.Config.AddCacheRef(namespace, ref); err != nil {
			if _, ok := err.(*gobatis.IncompleteElementError); !ok {
				return err
			}
		}
	}

	for _, el := range root.childrenByTag("parameterMap") {
		pm, err := b.parseParameterMap(namespace, el)
		if err != nil {
			return err
		}
		b.Config.AddParameterMap(pm)
	}

	for _, el := range root.childrenByTag("resultMap") {
		rm, err := ParseResultMapElem(el, b.Aliases.Resolve)
		if err != nil {
			return err
		}
		if err := b.Config.AddResultMap(rm, namespace); err != nil {
			if _, ok := err.(*gobatis.IncompleteElementError); !ok {
				return err
			}
		}
	}

	for _, tag := range []string{"select", "insert", "update", "delete"} {
		for _, el := range root.childrenByTag(tag) {
			if err := b.buildStatementDeferring(namespace, tag, el); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildStatementDeferring builds a statement now when its references all
// resolve, or parks it on the Configuration's incomplete-statements queue
// when an include refid or resultMap id is still a forward reference
// (spec.md §4.G's two-phase build). The queued retry re-queues itself
// while the reference stays unresolved, per DeferStatement's contract.
func (b *MapperBuilder) buildStatementDeferring(namespace, tag string, el *xmlElem) error {
	err := b.buildStatement(namespace, tag, el)
	if err == nil {
		return nil
	}
	if _, ok := err.(*gobatis.IncompleteElementError); !ok {
		return err
	}
	var retry func() error
	retry = func() error {
		err := b.buildStatement(namespace, tag, el)
		if _, ok := err.(*gobatis.IncompleteElementError); ok {
			b.Config.DeferStatement(retry)
		}
		return err
	}
	b.Config.DeferStatement(retry)
	return nil
}

func firstChild(elem *xmlElem, tag string) *xmlElem {
	kids := elem.childrenByTag(tag)
	if len(kids) == 0 {
		return nil
	}
	return kids[0]
}

// parseParameterMap builds one <parameterMap> element's reusable mapping
// list (spec.md §3 ParameterMap): statements written with bare ?
// placeholders reference it through their parameterMap attribute instead
// of inline #{...} expressions.
func (b *MapperBuilder) parseParameterMap(namespace string, el *xmlElem) (*gobatis.ParameterMap, error) {
	pm := &gobatis.ParameterMap{ID: gobatis.Qualify(el.Attrs["id"], namespace)}
	if t := el.Attrs["type"]; t != "" {
		typ, err := b.Aliases.Resolve(t)
		if err != nil {
			return nil, &gobatis.ParseError{Context: "parameterMap " + pm.ID, Cause: err}
		}
		pm.Type = typ
	}
	for _, p := range el.childrenByTag("parameter") {
		mapping := gobatis.ParameterMapping{
			Property:     p.Attrs["property"],
			JdbcType:     p.Attrs["jdbcType"],
			TypeHandler:  p.Attrs["typeHandler"],
			NumericScale: atoiOr(p.Attrs["numericScale"], 0),
			ResultMapID:  p.Attrs["resultMap"],
		}
		switch strings.ToUpper(p.Attrs["mode"]) {
		case "OUT":
			mapping.Mode = gobatis.ParamOut
		case "INOUT":
			mapping.Mode = gobatis.ParamInOut
		}
		if jt := p.Attrs["javaType"]; jt != "" {
			typ, err := b.Aliases.Resolve(jt)
			if err != nil {
				return nil, &gobatis.ParseError{Context: "parameterMap " + pm.ID, Cause: err}
			}
			mapping.GoType = typ
		} else if pm.Type != nil && mapping.Property != "" {
			mc := reflectx.ForType(derefType(pm.Type))
			if t, err := mc.GetterType(mapping.Property); err == nil {
				mapping.GoType = t
			}
		}
		pm.Mappings = append(pm.Mappings, mapping)
	}
	return pm, nil
}

func (b *MapperBuilder) buildCache(namespace string, el *xmlElem) error {
	if b.NewCache == nil {
		return &gobatis.ParseError{Context: "mapper " + namespace + " declares <cache> but no cache factory was configured"}
	}
	region, err := b.NewCache(namespace, el.Attrs)
	if err != nil {
		return &gobatis.CacheError{Region: namespace, Cause: err}
	}
	b.Config.AddCache(region)
	return nil
}

func commandTypeOf(tag string) gobatis.SqlCommandType {
	switch tag {
	case "select":
		return gobatis.SqlSelect
	case "insert":
		return gobatis.SqlInsert
	case "update":
		return gobatis.SqlUpdate
	case "delete":
		return gobatis.SqlDelete
	}
	return gobatis.SqlUnknown
}

func (b *MapperBuilder) buildStatement(namespace, tag string, el *xmlElem) error {
	id := gobatis.Qualify(el.Attrs["id"], namespace)
	cmd := commandTypeOf(tag)

	paramType, err := b.resolveOptionalType(el.Attrs["parameterType"])
	if err != nil {
		return &gobatis.ParseError{Context: "statement " + id, Cause: err}
	}

	source, err := b.buildSqlSource(namespace, el, paramType)
	if err != nil {
		return err
	}

	ms := &gobatis.MappedStatement{
		ID:            id,
		CommandType:   cmd,
		StatementType: statementTypeOf(el.Attrs["statementType"]),
		SqlSource:     source,
		ParameterType: paramType,
		FetchSize:     atoiOr(el.Attrs["fetchSize"], b.Config.Settings.DefaultFetchSize),
		Timeout:       atoiOr(el.Attrs["timeout"], b.Config.Settings.DefaultStatementTimeout),
		ResultOrdered: el.Attrs["resultOrdered"] == "true",
		LangDriver:    el.Attrs["lang"],
	}

	ms.UseCache = cmd == gobatis.SqlSelect
	if v := el.Attrs["useCache"]; v != "" {
		ms.UseCache = v == "true"
	}
	ms.FlushCacheRequired = cmd != gobatis.SqlSelect
	if v := el.Attrs["flushCache"]; v != "" {
		ms.FlushCacheRequired = v == "true"
	}

	if rsID := el.Attrs["resultSets"]; rsID != "" {
		for _, s := range strings.Split(rsID, ",") {
			ms.ResultSets = append(ms.ResultSets, strings.TrimSpace(s))
		}
	}

	if region, ok := b.Config.GetCache(namespace); ok {
		ms.Cache = region
	}

	if pmID := el.Attrs["parameterMap"]; pmID != "" {
		qualified := gobatis.Qualify(pmID, namespace)
		pm, ok := b.Config.GetParameterMap(qualified)
		if !ok {
			return &gobatis.IncompleteElementError{Kind: "statement", ID: id, Hint: "parameterMap " + qualified + " not yet registered"}
		}
		ms.ParameterMap = pm
		if ms.ParameterType == nil {
			ms.ParameterType = pm.Type
		}
	}

	if err := b.attachResultMaps(ms, el, namespace); err != nil {
		return err
	}

	kg, keyProps, keyCols, err := b.buildKeyGenerator(namespace, id, el, cmd)
	if err != nil {
		return err
	}
	ms.KeyGenerator = kg
	ms.KeyProperties = keyProps
	ms.KeyColumns = keyCols

	b.Config.AddMappedStatement(ms)
	return nil
}

func statementTypeOf(s string) gobatis.StatementType {
	switch strings.ToUpper(s) {
	case "STATEMENT":
		return gobatis.StatementSimple
	case "CALLABLE":
		return gobatis.StatementCallable
	default:
		return gobatis.StatementPrepared
	}
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func (b *MapperBuilder) resolveOptionalType(alias string) (reflect.Type, error) {
	if alias == "" {
		return nil, nil
	}
	return b.Aliases.Resolve(alias)
}

func (b *MapperBuilder) attachResultMaps(ms *gobatis.MappedStatement, el *xmlElem, namespace string) error {
	if rmAttr := el.Attrs["resultMap"]; rmAttr != "" {
		for _, id := range strings.Split(rmAttr, ",") {
			qualified := gobatis.Qualify(strings.TrimSpace(id), namespace)
			rm, ok := b.Config.GetResultMap(qualified)
			if !ok {
				return &gobatis.IncompleteElementError{Kind: "statement", ID: ms.ID, Hint: "resultMap " + qualified + " not yet registered"}
			}
			ms.ResultMaps = append(ms.ResultMaps, rm)
		}
		return nil
	}
	if rtAttr := el.Attrs["resultType"]; rtAttr != "" {
		typ, err := b.Aliases.Resolve(rtAttr)
		if err != nil {
			return &gobatis.ParseError{Context: "statement " + ms.ID, Cause: err}
		}
		full := gobatis.AutoMappingFull
		synth := &gobatis.ResultMap{ID: ms.ID + "-inline", Type: typ, AutoMapping: &full}
		synth.Partition()
		ms.ResultMaps = append(ms.ResultMaps, synth)
	}
	return nil
}

// buildKeyGenerator wires spec.md §4.M: a nested <selectKey> always wins;
// otherwise INSERTs fall back to useGeneratedKeys (statement-level
// override, else the Configuration-wide setting); everything else gets
// NoKeyGenerator.
func (b *MapperBuilder) buildKeyGenerator(namespace, id string, el *xmlElem, cmd gobatis.SqlCommandType) (gobatis.KeyGenerator, []string, []string, error) {
	if sk := firstChild(el, "selectKey"); sk != nil {
		keyProp := splitTrim(sk.Attrs["keyProperty"])
		keyCol := splitTrim(sk.Attrs["keyColumn"])
		before := strings.ToUpper(sk.Attrs["order"]) == "BEFORE"

		paramType, err := b.resolveOptionalType(el.Attrs["parameterType"])
		if err != nil {
			return nil, nil, nil, err
		}
		source, err := b.buildSqlSource(namespace, sk, paramType)
		if err != nil {
			return nil, nil, nil, err
		}
		auxID := id + "!selectKey"
		aux := &gobatis.MappedStatement{
			ID:            auxID,
			CommandType:   gobatis.SqlSelect,
			StatementType: gobatis.StatementPrepared,
			SqlSource:     source,
			ParameterType: paramType,
		}
		b.Config.AddMappedStatement(aux)

		gen := keygen.SelectKeyGenerator{Statement: aux, Before: before}
		if len(keyProp) > 0 {
			gen.KeyProperty = keyProp[0]
		}
		return gen, keyProp, keyCol, nil
	}

	if cmd != gobatis.SqlInsert {
		return keygen.NoKeyGenerator{}, nil, nil, nil
	}

	useGenerated := b.Config.Settings.UseGeneratedKeys
	if v := el.Attrs["useGeneratedKeys"]; v != "" {
		useGenerated = v == "true"
	}
	if !useGenerated {
		return keygen.NoKeyGenerator{}, nil, nil, nil
	}

	keyProp := splitTrim(el.Attrs["keyProperty"])
	keyCol := splitTrim(el.Attrs["keyColumn"])
	return keygen.Jdbc3KeyGenerator{KeyProperties: keyProp}, keyProp, keyCol, nil
}

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// buildSqlSource expands <include>s then compiles the statement element's
// body, choosing StaticSqlSource or DynamicSqlSource per spec.md §4.D's
// classification rule: any dynamic element or any ${} interpolation forces
// the dynamic shape, since both need per-invocation re-rendering.
func (b *MapperBuilder) buildSqlSource(namespace string, el *xmlElem, paramType reflect.Type) (gobatis.SqlSource, error) {
	vars := make(map[string]string, len(b.Config.Variables))
	for k, v := range b.Config.Variables {
		vars[k] = v
	}
	expanded, err := expandIncludes(b.Config, el, namespace, vars, false)
	if err != nil {
		return nil, err
	}
	compiled, err := compileChildren(expanded, b.Config.Settings.NullableOnForEach)
	if err != nil {
		return nil, &gobatis.ParseError{Context: "statement " + el.Attrs["id"], Cause: err}
	}

	shrink := b.Config.Settings.ShrinkWhitespacesInSql

	if !compiled.hasDynamicElement && !compiled.hasInterpolation {
		text := staticText(expanded)
		sqlText, mappings, err := RewritePlaceholders(text, paramType, nil, shrink)
		if err != nil {
			return nil, err
		}
		return &StaticSqlSource{SQL: sqlText, ParameterMappings: mappings}, nil
	}

	return &DynamicSqlSource{Root: compiled.node, ParameterType: paramType, ShrinkWhitespace: shrink}, nil
}

// staticText concatenates an element's direct text children; valid only
// once compileChildren has confirmed there is no dynamic element or ${}
// interpolation anywhere in the subtree.
func staticText(elem *xmlElem) string {
	var b strings.Builder
	for _, c := range elem.Children {
		if t, ok := c.(xmlText); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
