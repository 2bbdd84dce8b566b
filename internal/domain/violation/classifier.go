package violation

import "strings"

// Type is a canonical violation category.
type Type string

const (
	TypeSpeeding          Type = "speeding"
	TypeRashDriving       Type = "rash_driving"
	TypeWrongParking      Type = "wrong_parking"
	TypeRedLight          Type = "red_light"
	TypeHelmetViolation   Type = "helmet_violation"
	TypeSeatbeltViolation Type = "seatbelt_violation"
	TypePhoneUsage        Type = "phone_usage"
	TypeNoLicensePlate    Type = "no_license_plate"
	TypeOther             Type = "other"
)

var Types = []Type{
	TypeSpeeding,
	TypeRashDriving,
	TypeWrongParking,
	TypeRedLight,
	TypeHelmetViolation,
	TypeSeatbeltViolation,
	TypePhoneUsage,
	TypeNoLicensePlate,
	TypeOther,
}

var typeAliases = map[string]Type{
	"speeding":             TypeSpeeding,
	"over_speeding":        TypeSpeeding,
	"rash_driving":         TypeRashDriving,
	"wrong_parking":        TypeWrongParking,
	"illegal_parking":      TypeWrongParking,
	"red_light":            TypeRedLight,
	"red_light_jump":       TypeRedLight,
	"helmet_violation":     TypeHelmetViolation,
	"not_wearing_helmet":   TypeHelmetViolation,
	"no_helmet":            TypeHelmetViolation,
	"seatbelt_violation":   TypeSeatbeltViolation,
	"not_wearing_seatbelt": TypeSeatbeltViolation,
	"no_seatbelt":          TypeSeatbeltViolation,
	"phone_usage":          TypePhoneUsage,
	"mobile_phone_usage":   TypePhoneUsage,
	"no_license_plate":     TypeNoLicensePlate,
	"missing_number_plate": TypeNoLicensePlate,
	"other":                TypeOther,
}

func (t Type) Valid() bool {
	for _, c := range Types {
		if c == t {
			return true
		}
	}
	return false
}

// Normalize maps the first label of a raw comma separated list onto the
// canonical set. Unknown labels map to TypeOther.
func Normalize(raw string) Type {
	first, _, _ := strings.Cut(raw, ",")
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(first)), " ", "_")
	if t, ok := typeAliases[key]; ok {
		return t
	}
	return TypeOther
}
