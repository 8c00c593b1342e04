package align

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadCloud reads a point cloud from disk, dispatching on file extension.
// Supported formats: ASCII XYZ (.xyz, .txt) and ASCII PLY (.ply).
func LoadCloud(path string) (*PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cloud file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xyz", ".txt":
		return parseXYZ(f)
	case ".ply":
		return parsePLY(f)
	}
	return nil, fmt.Errorf("unsupported cloud format %q (want .xyz, .txt, or .ply)", filepath.Ext(path))
}

// DecodeCloudPayload parses an MQTT cloud payload. Sensors publish the same
// ASCII XYZ records the file loader accepts.
func DecodeCloudPayload(payload []byte) (*PointCloud, error) {
	return parseXYZ(bytes.NewReader(payload))
}

// parseXYZ parses whitespace-separated lines of "x y z" or "x y z nx ny nz".
// Blank lines and lines starting with '#' are skipped. All records in a file
// must have the same number of columns.
func parseXYZ(f io.Reader) (*PointCloud, error) {
	cloud := &PointCloud{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	columns := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if columns == 0 {
			if len(fields) != 3 && len(fields) != 6 {
				return nil, fmt.Errorf("line %d: expected 3 or 6 columns, got %d", lineNo, len(fields))
			}
			columns = len(fields)
		} else if len(fields) != columns {
			return nil, fmt.Errorf("line %d: inconsistent column count %d (file uses %d)", lineNo, len(fields), columns)
		}

		vals := make([]float64, len(fields))
		for i, s := range fields {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: parsing %q: %w", lineNo, s, err)
			}
			vals[i] = v
		}

		cloud.Points = append(cloud.Points, Vec3{vals[0], vals[1], vals[2]})
		if columns == 6 {
			cloud.Normals = append(cloud.Normals, Vec3{vals[3], vals[4], vals[5]})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading cloud file: %w", err)
	}
	if len(cloud.Points) == 0 {
		return nil, fmt.Errorf("cloud file contains no points")
	}
	return cloud, nil
}

// plyProperty records the column position of one vertex property.
type plyProperty struct {
	name  string
	index int
}

// parsePLY parses an ASCII PLY file with x/y/z and optional nx/ny/nz vertex
// properties. Binary PLY is not supported.
func parsePLY(f io.Reader) (*PointCloud, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "ply" {
		return nil, fmt.Errorf("not a PLY file (missing magic)")
	}

	vertexCount := -1
	var props []plyProperty
	inVertexElement := false
	propIndex := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 || fields[1] != "ascii" {
				return nil, fmt.Errorf("only ascii PLY is supported, got %q", line)
			}
		case "element":
			inVertexElement = len(fields) >= 3 && fields[1] == "vertex"
			if inVertexElement {
				n, err := strconv.Atoi(fields[2])
				if err != nil {
					return nil, fmt.Errorf("parsing vertex count: %w", err)
				}
				vertexCount = n
				propIndex = 0
			}
		case "property":
			if inVertexElement && len(fields) >= 3 {
				props = append(props, plyProperty{name: fields[len(fields)-1], index: propIndex})
				propIndex++
			}
		case "comment", "obj_info":
			// skip
		case "end_header":
			return parsePLYVertices(scanner, vertexCount, props)
		}
	}
	return nil, fmt.Errorf("PLY header has no end_header")
}

func parsePLYVertices(scanner *bufio.Scanner, count int, props []plyProperty) (*PointCloud, error) {
	if count <= 0 {
		return nil, fmt.Errorf("PLY file declares no vertices")
	}

	col := func(name string) int {
		for _, p := range props {
			if p.name == name {
				return p.index
			}
		}
		return -1
	}
	xi, yi, zi := col("x"), col("y"), col("z")
	if xi < 0 || yi < 0 || zi < 0 {
		return nil, fmt.Errorf("PLY vertex element is missing x/y/z properties")
	}
	nxi, nyi, nzi := col("nx"), col("ny"), col("nz")
	hasNormals := nxi >= 0 && nyi >= 0 && nzi >= 0

	cloud := &PointCloud{Points: make([]Vec3, 0, count)}
	if hasNormals {
		cloud.Normals = make([]Vec3, 0, count)
	}

	for len(cloud.Points) < count && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < len(props) {
			return nil, fmt.Errorf("vertex %d: expected %d values, got %d", len(cloud.Points), len(props), len(fields))
		}
		get := func(i int) (float64, error) { return strconv.ParseFloat(fields[i], 64) }

		x, err := get(xi)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", len(cloud.Points), err)
		}
		y, err := get(yi)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", len(cloud.Points), err)
		}
		z, err := get(zi)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", len(cloud.Points), err)
		}
		cloud.Points = append(cloud.Points, Vec3{x, y, z})

		if hasNormals {
			nx, err1 := get(nxi)
			ny, err2 := get(nyi)
			nz, err3 := get(nzi)
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, fmt.Errorf("vertex %d: bad normal", len(cloud.Points)-1)
			}
			cloud.Normals = append(cloud.Normals, Vec3{nx, ny, nz})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading PLY vertices: %w", err)
	}
	if len(cloud.Points) != count {
		return nil, fmt.Errorf("PLY file truncated: got %d of %d vertices", len(cloud.Points), count)
	}
	return cloud, nil
}
