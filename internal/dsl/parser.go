package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	tableRe  = regexp.MustCompile(`^table\s+(\w+):`)
	columnRe = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe   = regexp.MustCompile(`^enum\[(.*)\]$`)
	moduleRe = regexp.MustCompile(`^\s*module\s+([A-Za-z0-9_.-]+)\s*$`)
)

// splitOptionTokens делит `k=v k2='v 2' pattern=^[A-Z0-9 _-]+$` на токены,
// не разрывая кавычки и [...] внутри регэкспов.
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// LoadTables читает один .dsl файл.
func LoadTables(path string) ([]*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseTables(file)
}

// ParseTables разбирает DSL из r. Колонки вне таблицы игнорируются.
func ParseTables(r io.Reader) ([]*Table, error) {
	var tables []*Table
	var current *Table
	currentModule := ""
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := moduleRe.FindStringSubmatch(line); m != nil {
			currentModule = m[1]
			continue
		}

		if m := tableRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				tables = append(tables, current)
			}
			current = &Table{Name: m[1], Module: currentModule}
			if currentModule != "" {
				current.ID = currentModule + "." + m[1]
			} else {
				current.ID = m[1]
			}
			continue
		}
		if current == nil {
			continue
		}

		m := columnRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		col, err := parseColumn(m[1], m[2], m[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %s.%s: %w", lineNo, current.Name, m[1], err)
		}
		if _, dup := current.Column(col.Name); dup {
			return nil, fmt.Errorf("line %d: duplicate column %q in table %s", lineNo, col.Name, current.Name)
		}
		current.Columns = append(current.Columns, col)
	}

	if current != nil {
		tables = append(tables, current)
	}
	return tables, scanner.Err()
}

func parseColumn(id, rawType, tail string) (Column, error) {
	// enum[a, b] мог разорваться пробелом после запятой
	if strings.HasPrefix(rawType, "enum[") && !strings.Contains(rawType, "]") {
		if idx := strings.Index(tail, "]"); idx >= 0 {
			rawType = rawType + tail[:idx+1]
			tail = tail[idx+1:]
		}
	}

	optsRaw := strings.TrimSpace(tail)
	if i := strings.Index(optsRaw, " #"); i >= 0 {
		optsRaw = strings.TrimSpace(optsRaw[:i])
	}

	col := Column{
		ID:     id,
		Name:   id,
		DBName: strings.ToLower(id),
		Width:  1,
	}

	if mm := enumRe.FindStringSubmatch(rawType); mm != nil {
		col.Type = TypeText
		for _, p := range strings.Split(mm[1], ",") {
			if s := strings.Trim(strings.TrimSpace(p), `"'`); s != "" {
				col.Options = append(col.Options, s)
			}
		}
	} else {
		col.Type = ParseColumnType(rawType)
	}

	for _, tok := range splitOptionTokens(optsRaw) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		// флаг без значения
		if !strings.Contains(tok, "=") {
			switch strings.ToLower(tok) {
			case "remember":
				col.Remember = true
			default:
				return Column{}, fmt.Errorf("unknown flag %q", tok)
			}
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := unquote(strings.TrimSpace(kv[1]))

		switch k {
		case "name":
			col.Name = v
		case "db":
			col.DBName = v
		case "width":
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return Column{}, fmt.Errorf("width must be a positive integer, got %q", v)
			}
			col.Width = n
		case "prefix", "suffix", "pattern", "maxlen":
			c, err := ParseConstraint(k + "=" + v)
			if err != nil {
				return Column{}, err
			}
			col.Constraints = append(col.Constraints, c)
		case "options":
			col.Catalog = v
		default:
			return Column{}, fmt.Errorf("unknown option %q", k)
		}
	}
	return col, nil
}

// LoadAll обходит root и собирает все таблицы из *.dsl. Ключ — Table.ID.
func LoadAll(root string) (map[string]*Table, error) {
	result := make(map[string]*Table)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}

		tables, err := LoadTables(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, t := range tables {
			if t.Module == "" {
				return fmt.Errorf("table %q in %s has no module — add `module <name>` at the top", t.Name, path)
			}
			if _, exists := result[t.ID]; exists {
				return fmt.Errorf("duplicate table %q (file: %s)", t.ID, path)
			}
			result[t.ID] = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ParseConstraint разбирает ограничение из вида `kind=value` (как его печатает String()).
func ParseConstraint(s string) (Constraint, error) {
	kv := strings.SplitN(s, "=", 2)
	if len(kv) != 2 {
		return nil, fmt.Errorf("bad constraint %q", s)
	}
	v := kv[1]
	switch strings.ToLower(strings.TrimSpace(kv[0])) {
	case "prefix":
		return Prefix{Text: v}, nil
	case "suffix":
		return Suffix{Text: v}, nil
	case "pattern":
		re, err := regexp.Compile(v)
		if err != nil {
			return nil, fmt.Errorf("bad pattern: %w", err)
		}
		return Pattern{Re: re}, nil
	case "maxlen":
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("maxlen must be a positive integer, got %q", v)
		}
		return MaxLength{N: n}, nil
	default:
		return nil, fmt.Errorf("unknown constraint %q", kv[0])
	}
}
