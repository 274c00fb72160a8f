package reference

// Catalog — справочник допустимых значений для перечислимой текстовой колонки.
type Catalog struct {
	Name  string `yaml:"name"`
	Items []Item `yaml:"items"`
}

type Item struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	// Order задаёт порядок в списке выбора; ValidFrom/ValidTo — YYYY-MM-DD, включительно.
	Order     int    `yaml:"order,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty"`
}
