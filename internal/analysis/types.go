package analysis

import "strings"

// Canonical activity types shared by every provider.
const (
	TypeRun      = "run"
	TypeRide     = "ride"
	TypeSwim     = "swim"
	TypeWalk     = "walk"
	TypeHike     = "hike"
	TypeRow      = "row"
	TypeStrength = "strength"
	TypeOther    = "other"
)

var typeAliases = map[string]string{
	"run":              TypeRun,
	"running":          TypeRun,
	"virtualrun":       TypeRun,
	"trailrun":         TypeRun,
	"treadmill":        TypeRun,
	"ride":             TypeRide,
	"cycling":          TypeRide,
	"virtualride":      TypeRide,
	"ebikeride":        TypeRide,
	"gravelride":       TypeRide,
	"mountainbikeride": TypeRide,
	"biking":           TypeRide,
	"swim":             TypeSwim,
	"swimming":         TypeSwim,
	"openwaterswim":    TypeSwim,
	"walk":             TypeWalk,
	"walking":          TypeWalk,
	"hike":             TypeHike,
	"hiking":           TypeHike,
	"rowing":           TypeRow,
	"row":              TypeRow,
	"virtualrow":       TypeRow,
	"weighttraining":   TypeStrength,
	"strength":         TypeStrength,
	"strengthtraining": TypeStrength,
	"training":         TypeStrength,
}

// NormalizeType maps a provider's activity tag onto a canonical type.
// Unknown tags become TypeOther.
func NormalizeType(tag string) string {
	key := strings.ToLower(strings.TrimSpace(tag))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	if t, ok := typeAliases[key]; ok {
		return t
	}
	return TypeOther
}

// typicalSpeed is a rough moving speed in m/s used to estimate missing durations.
var typicalSpeed = map[string]float64{
	TypeRun:  2.8,
	TypeRide: 7.0,
	TypeSwim: 0.9,
	TypeWalk: 1.4,
	TypeHike: 1.1,
	TypeRow:  2.5,
}
