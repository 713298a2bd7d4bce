package jpgisdem

import (
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
)

// A MeshCode is a JIS X 0410 standard grid square code. Primary codes have
// four digits, secondary codes six, and tertiary codes eight.
type MeshCode int

// A MeshLevel is the subdivision level of a MeshCode.
type MeshLevel int

const (
	MeshLevelInvalid MeshLevel = iota
	MeshLevelPrimary
	MeshLevelSecondary
	MeshLevelTertiary
)

// Mesh sizes in degrees.
const (
	primaryMeshHeight   = 2.0 / 3.0
	primaryMeshWidth    = 1.0
	secondaryMeshHeight = primaryMeshHeight / 8
	secondaryMeshWidth  = primaryMeshWidth / 8
	tertiaryMeshHeight  = secondaryMeshHeight / 10
	tertiaryMeshWidth   = secondaryMeshWidth / 10
)

// meshEpsilon absorbs floating point error when a coordinate lies exactly on a
// mesh boundary.
const meshEpsilon = 1e-9

// ParseMeshCode parses s, which may contain the dashes used in GSI file names
// such as 3926-76 or 5339-45-00.
func ParseMeshCode(s string) (MeshCode, error) {
	digits := make([]byte, 0, len(s))
	for i := range len(s) {
		switch c := s[i]; {
		case c == '-':
		case '0' <= c && c <= '9':
			digits = append(digits, c)
		default:
			return 0, fmt.Errorf("%s: invalid mesh code", s)
		}
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid mesh code", s)
	}
	m := MeshCode(n)
	if m.Level() == MeshLevelInvalid || len(digits) != m.digits() {
		return 0, fmt.Errorf("%s: invalid mesh code", s)
	}
	return m, nil
}

// PrimaryMesh returns the primary mesh containing coord.
func PrimaryMesh(coord Coord) (MeshCode, bool) {
	p, u, ok := primaryIndexes(coord)
	if !ok {
		return 0, false
	}
	return MeshCode(100*p + u), true
}

// SecondaryMesh returns the secondary mesh containing coord.
func SecondaryMesh(coord Coord) (MeshCode, bool) {
	p, u, ok := primaryIndexes(coord)
	if !ok {
		return 0, false
	}
	q, v := subIndexes(coord.Y*1.5-float64(p), coord.X-100-float64(u), 8)
	return MeshCode(10000*p + 100*u + 10*q + v), true
}

// TertiaryMesh returns the tertiary mesh containing coord.
func TertiaryMesh(coord Coord) (MeshCode, bool) {
	p, u, ok := primaryIndexes(coord)
	if !ok {
		return 0, false
	}
	fy := (coord.Y*1.5 - float64(p)) * 8
	fx := (coord.X - 100 - float64(u)) * 8
	q, v := subIndexes(fy/8, fx/8, 8)
	r, w := subIndexes(fy-float64(q), fx-float64(v), 10)
	return MeshCode(1000000*p + 10000*u + 1000*q + 100*v + 10*r + w), true
}

// ContainingSecondaryMesh returns the secondary mesh that contains all of
// bound, or zero if there is none.
func ContainingSecondaryMesh(bound orb.Bound) MeshCode {
	mesh, ok := SecondaryMesh(Coord{X: bound.Center().Lon(), Y: bound.Center().Lat()})
	if !ok {
		return 0
	}
	meshBounds := mesh.Bounds().Pad(meshEpsilon)
	if !meshBounds.Contains(bound.Min) || !meshBounds.Contains(bound.Max) {
		return 0
	}
	return mesh
}

func primaryIndexes(coord Coord) (int, int, bool) {
	p := int(math.Floor(coord.Y*1.5 + meshEpsilon))
	u := int(math.Floor(coord.X+meshEpsilon)) - 100
	if p < 0 || p > 99 || u < 0 || u > 99 {
		return 0, 0, false
	}
	return p, u, true
}

func subIndexes(fy, fx float64, n int) (int, int) {
	r := min(int(math.Floor(fy*float64(n)+meshEpsilon)), n-1)
	c := min(int(math.Floor(fx*float64(n)+meshEpsilon)), n-1)
	return max(r, 0), max(c, 0)
}

// Level returns m's level.
func (m MeshCode) Level() MeshLevel {
	switch {
	case 1000 <= m && m <= 9999:
		return MeshLevelPrimary
	case 100000 <= m && m <= 999999:
		if (m/10)%10 > 7 || m%10 > 7 {
			return MeshLevelInvalid
		}
		return MeshLevelSecondary
	case 10000000 <= m && m <= 99999999:
		if m.Parent().Level() != MeshLevelSecondary {
			return MeshLevelInvalid
		}
		return MeshLevelTertiary
	default:
		return MeshLevelInvalid
	}
}

func (m MeshCode) digits() int {
	switch {
	case m < 1000:
		return 0
	case m < 10000:
		return 4
	case m < 1000000:
		return 6
	default:
		return 8
	}
}

// Parent returns the mesh one level up, or 0 for primary meshes.
func (m MeshCode) Parent() MeshCode {
	switch m.digits() {
	case 6:
		return m / 100
	case 8:
		return m / 100
	default:
		return 0
	}
}

// Bounds returns m's extent in degrees.
func (m MeshCode) Bounds() orb.Bound {
	var south, west, height, width float64
	switch m.Level() {
	case MeshLevelPrimary:
		p, u := int(m)/100, int(m)%100
		south, west = float64(p)/1.5, float64(u)+100
		height, width = primaryMeshHeight, primaryMeshWidth
	case MeshLevelSecondary:
		primary := m.Parent().Bounds()
		q, v := int(m)/10%10, int(m)%10
		south = primary.Min.Lat() + float64(q)*secondaryMeshHeight
		west = primary.Min.Lon() + float64(v)*secondaryMeshWidth
		height, width = secondaryMeshHeight, secondaryMeshWidth
	case MeshLevelTertiary:
		secondary := m.Parent().Bounds()
		r, w := int(m)/10%10, int(m)%10
		south = secondary.Min.Lat() + float64(r)*tertiaryMeshHeight
		west = secondary.Min.Lon() + float64(w)*tertiaryMeshWidth
		height, width = tertiaryMeshHeight, tertiaryMeshWidth
	default:
		return orb.Bound{}
	}
	return orb.Bound{
		Min: orb.Point{west, south},
		Max: orb.Point{west + width, south + height},
	}
}

func (m MeshCode) String() string {
	return strconv.Itoa(int(m))
}
