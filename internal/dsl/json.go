package dsl

import "encoding/json"

type columnJSON struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	DBName      string     `json:"dbName"`
	Width       int        `json:"width"`
	Type        ColumnType `json:"type"`
	Constraints []string   `json:"constraints,omitempty"`
	Options     []string   `json:"options,omitempty"`
	Catalog     string     `json:"catalog,omitempty"`
	Remember    bool       `json:"remember,omitempty"`
}

// MarshalJSON печатает ограничения строками вида "prefix=SC-".
func (c Column) MarshalJSON() ([]byte, error) {
	out := columnJSON{
		ID: c.ID, Name: c.Name, DBName: c.DBName, Width: c.Width, Type: c.Type,
		Options: c.Options, Catalog: c.Catalog, Remember: c.Remember,
	}
	for _, cs := range c.Constraints {
		out.Constraints = append(out.Constraints, cs.String())
	}
	return json.Marshal(out)
}

func (c *Column) UnmarshalJSON(b []byte) error {
	var in columnJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*c = Column{
		ID: in.ID, Name: in.Name, DBName: in.DBName, Width: in.Width, Type: ParseColumnType(string(in.Type)),
		Options: in.Options, Catalog: in.Catalog, Remember: in.Remember,
	}
	for _, s := range in.Constraints {
		cs, err := ParseConstraint(s)
		if err != nil {
			return err
		}
		c.Constraints = append(c.Constraints, cs)
	}
	return nil
}
