// api/names.go
package api

import "strings"

// NormalizeTableName возвращает ID ("module.name") по паре {module, table}.
// Если module пустой, ищет единственную таблицу с таким именем среди всех модулей.
func (s *Storage) NormalizeTableName(module, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	// "inventory.Items" одним сегментом
	if module == "" {
		if i := strings.IndexByte(name, '.'); i > 0 {
			module, name = name[:i], name[i+1:]
		}
	}
	ml := strings.ToLower(strings.TrimSpace(module))
	nl := strings.ToLower(strings.TrimSpace(name))

	if ml != "" {
		if _, ok := s.Tables[module+"."+name]; ok {
			return module + "." + name, true
		}
		for id, t := range s.Tables {
			if strings.ToLower(t.Module) == ml && strings.ToLower(t.Name) == nl {
				return id, true
			}
		}
		return "", false
	}

	var found string
	for id, t := range s.Tables {
		if strings.ToLower(t.Name) == nl {
			if found != "" { // неуникально
				return "", false
			}
			found = id
		}
	}
	return found, found != ""
}
