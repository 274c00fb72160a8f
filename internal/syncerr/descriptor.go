package syncerr

import "strings"

// Descriptor — локализуемая ошибка для UI: ключ перевода плюс параметры.
// Сырые error сюда не попадают.
type Descriptor struct {
	Key    string   `json:"key"`
	Params []string `json:"params,omitempty"`
}

// Ключи, которыми пользуется ядро
const (
	KeyValidationNumeric   = "sync.validation.numeric"
	KeyValidationBoolean   = "sync.validation.boolean"
	KeyValidationPattern   = "sync.validation.pattern"
	KeyValidationMaxLength = "sync.validation.max_length"
	KeyValidationOption    = "sync.validation.option"
	KeyUpload              = "sync.upload_failed"
	KeyWrite               = "sync.write_failed"
	KeyRemote              = "sync.remote"
)

// New собирает дескриптор.
func New(key string, params ...string) Descriptor {
	return Descriptor{Key: key, Params: params}
}

func (d Descriptor) String() string {
	if len(d.Params) == 0 {
		return d.Key
	}
	return d.Key + "(" + strings.Join(d.Params, ", ") + ")"
}

func (d Descriptor) clone() Descriptor {
	if d.Params != nil {
		d.Params = append([]string(nil), d.Params...)
	}
	return d
}
