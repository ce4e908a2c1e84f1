package models

// Field is a canonical contact field key. Every miner, cleaner, and the
// lexicon speak in these keys; anything else is dropped at the validator
// boundary.
type Field string

const (
	FieldCompany Field = "company"
	FieldName    Field = "name"
	FieldEmail   Field = "email"
	FieldPhone   Field = "phone"
	FieldCountry Field = "country"
	FieldCity    Field = "city"
	FieldAddress Field = "address"
	FieldWebsite Field = "website"
	FieldTitle   Field = "title"
)

// FieldOrder is the declaration order of canonical fields. Label lookup
// resolves in this order, first match wins.
var FieldOrder = []Field{
	FieldCompany,
	FieldName,
	FieldEmail,
	FieldPhone,
	FieldCountry,
	FieldCity,
	FieldAddress,
	FieldWebsite,
	FieldTitle,
}
