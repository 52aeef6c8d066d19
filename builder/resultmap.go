package builder

import (
	"fmt"
	"reflect"
	"strings"

	"gobatis"
)

// TypeResolver resolves a type alias (as used in resultMap/parameterType
// attributes) to its reflect.Type, per the registry built by
// RegisterAlias.
type TypeResolver func(alias string) (reflect.Type, error)

// ParseResultMapElem builds a gobatis.ResultMap from a <resultMap> element
// (spec.md §3 ResultMap / ResultMapping, §4.G extension and discriminator
// handling happen later, in Configuration.AddResultMap).
func ParseResultMapElem(elem *xmlElem, typeResolver TypeResolver) (*gobatis.ResultMap, error) {
	rm := &gobatis.ResultMap{ID: elem.Attrs["id"], Extends: elem.Attrs["extends"]}

	if t := elem.Attrs["type"]; t != "" {
		typ, err := typeResolver(t)
		if err != nil {
			return nil, fmt.Errorf("builder: resultMap %s: %w", rm.ID, err)
		}
		rm.Type = typ
	}

	for _, c := range elem.Children {
		el, ok := c.(*xmlElem)
		if !ok {
			continue
		}
		switch el.Tag {
		case "id":
			rm.Mappings = append(rm.Mappings, resultMappingFromElem(el, true, false))
		case "result":
			rm.Mappings = append(rm.Mappings, resultMappingFromElem(el, false, false))
		case "constructor":
			for _, arg := range el.Children {
				argEl, ok := arg.(*xmlElem)
				if !ok {
					continue
				}
				isID := argEl.Tag == "idArg"
				rm.Mappings = append(rm.Mappings, resultMappingFromElem(argEl, isID, true))
			}
		case "association", "collection":
			nested, err := nestedMappingFromElem(el, typeResolver)
			if err != nil {
				return nil, err
			}
			rm.Mappings = append(rm.Mappings, nested)
		case "discriminator":
			d := &gobatis.Discriminator{
				Column:   el.Attrs["column"],
				JdbcType: el.Attrs["jdbcType"],
				CaseMap:  map[string]string{},
			}
			for _, cs := range el.childrenByTag("case") {
				d.CaseMap[cs.Attrs["value"]] = cs.Attrs["resultMap"]
			}
			rm.Discriminator = d
		}
	}
	return rm, nil
}

func resultMappingFromElem(el *xmlElem, isID, isCtorArg bool) gobatis.ResultMapping {
	rmap := gobatis.ResultMapping{
		Property:        firstNonEmpty(el.Attrs["property"], el.Attrs["name"]),
		Column:          el.Attrs["column"],
		JdbcType:        el.Attrs["jdbcType"],
		TypeHandler:     el.Attrs["typeHandler"],
		IsID:            isID,
		IsConstructorArg: isCtorArg,
	}
	return rmap
}

// nestedMappingFromElem builds the ResultMapping for one <association> or
// <collection> child. When the element carries its own <id>/<result>/
// nested children instead of a "resultMap" attribute, it compiles an
// inline anonymous ResultMap on the spot and attaches it directly
// (spec.md §3 "Nested result maps"); a "resultMap" attribute instead
// leaves NestedResultMapID for Configuration to resolve once the
// referenced map registers, since it may not exist yet at this point in
// the document.
func nestedMappingFromElem(el *xmlElem, typeResolver TypeResolver) (gobatis.ResultMapping, error) {
	rmap := gobatis.ResultMapping{
		Property:          el.Attrs["property"],
		Column:            el.Attrs["column"],
		NestedQueryID:     el.Attrs["select"],
		NestedResultMapID: el.Attrs["resultMap"],
		ResultSet:         el.Attrs["resultSet"],
		ForeignColumn:     el.Attrs["foreignColumn"],
		ColumnPrefix:      el.Attrs["columnPrefix"],
		Lazy:              el.Attrs["fetchType"] == "lazy",
		IsCollection:      el.Tag == "collection",
	}
	if nn := el.Attrs["notNullColumn"]; nn != "" {
		for _, c := range strings.Split(nn, ",") {
			rmap.NotNullColumns = append(rmap.NotNullColumns, strings.TrimSpace(c))
		}
	}
	if rmap.Column != "" && strings.Contains(rmap.Column, "=") {
		rmap.Composites = parseCompositeColumn(rmap.Column)
	}

	elementTypeAlias := firstNonEmpty(el.Attrs["ofType"], el.Attrs["javaType"])
	if elementTypeAlias != "" {
		t, err := typeResolver(elementTypeAlias)
		if err != nil {
			return rmap, fmt.Errorf("builder: nested mapping %s: %w", rmap.Property, err)
		}
		rmap.ElementType = t
		rmap.GoType = t
	}

	if rmap.NestedResultMapID == "" && rmap.NestedQueryID == "" && hasInlineResultChildren(el) {
		inline, err := ParseResultMapElem(el, typeResolver)
		if err != nil {
			return rmap, err
		}
		inline.ID = fmt.Sprintf("%s$%s", elementIDHint(el), rmap.Property)
		if inline.Type == nil {
			inline.Type = rmap.ElementType
		}
		inline.Partition()
		rmap.NestedResultMap = inline
	}
	return rmap, nil
}

func hasInlineResultChildren(el *xmlElem) bool {
	for _, c := range el.Children {
		if child, ok := c.(*xmlElem); ok {
			switch child.Tag {
			case "id", "result", "constructor", "association", "collection", "discriminator":
				return true
			}
		}
	}
	return false
}

func elementIDHint(el *xmlElem) string {
	if id := el.Attrs["id"]; id != "" {
		return id
	}
	return fmt.Sprintf("%p", el)
}

// parseCompositeColumn parses MyBatis' "{id=pid,state=ps}" composite-key
// column syntax (spec.md §3 ResultMapping composite sub-mappings).
func parseCompositeColumn(s string) map[string]string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return out
}
