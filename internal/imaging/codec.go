package imaging

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/klenai/stonecare/internal/domain/entities"
)

// ContainerMetadata describes the meshes bundled in an artifact so the
// container is self-describing when fetched later.
type ContainerMetadata struct {
	StoneCount int                       `json:"stone_count"`
	SpacingMM  [3]float64                `json:"spacing_mm"`
	Stones     []ContainerStoneMeta      `json:"stones"`
	Derivation entities.DerivationMethod `json:"derivation"`
}

// ContainerStoneMeta is the per-stone entry in the container metadata.
type ContainerStoneMeta struct {
	Index       int     `json:"index"`
	Location    string  `json:"location"`
	VolumeMM3   float64 `json:"volume_mm3"`
	VertexCount int     `json:"vertex_count"`
	FaceCount   int     `json:"face_count"`
}

const metadataEntryName = "metadata.json"

// EncodeContainer packs per-stone meshes into a single zip artifact. Each
// stone contributes a vertex buffer v_<i>.bin of little-endian float32
// (x, y, z) triples and a face buffer f_<i>.bin of little-endian int32 index
// triples, alongside a metadata.json describing the bundle.
func EncodeContainer(meshes []*Mesh, meta ContainerMetadata) ([]byte, error) {
	if len(meshes) != len(meta.Stones) {
		return nil, fmt.Errorf("imaging: %d meshes but %d metadata entries", len(meshes), len(meta.Stones))
	}
	meta.StoneCount = len(meshes)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i, mesh := range meshes {
		meta.Stones[i].Index = i
		meta.Stones[i].VertexCount = mesh.VertexCount()
		meta.Stones[i].FaceCount = mesh.FaceCount()

		vw, err := zw.Create(fmt.Sprintf("v_%d.bin", i))
		if err != nil {
			return nil, fmt.Errorf("imaging: creating vertex entry: %w", err)
		}
		if err := writeFloat32LE(vw, mesh.Vertices); err != nil {
			return nil, err
		}
		fw, err := zw.Create(fmt.Sprintf("f_%d.bin", i))
		if err != nil {
			return nil, fmt.Errorf("imaging: creating face entry: %w", err)
		}
		if err := writeInt32LE(fw, mesh.Faces); err != nil {
			return nil, err
		}
	}

	mw, err := zw.Create(metadataEntryName)
	if err != nil {
		return nil, fmt.Errorf("imaging: creating metadata entry: %w", err)
	}
	if err := json.NewEncoder(mw).Encode(meta); err != nil {
		return nil, fmt.Errorf("imaging: encoding metadata: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("imaging: finalizing container: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeContainer unpacks a mesh artifact produced by EncodeContainer.
func DecodeContainer(data []byte) ([]*Mesh, ContainerMetadata, error) {
	var meta ContainerMetadata
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, meta, fmt.Errorf("imaging: opening container: %w", err)
	}

	entries := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, meta, fmt.Errorf("imaging: opening entry %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, meta, fmt.Errorf("imaging: reading entry %s: %w", f.Name, err)
		}
		entries[f.Name] = b
	}

	raw, ok := entries[metadataEntryName]
	if !ok {
		return nil, meta, fmt.Errorf("imaging: container missing %s", metadataEntryName)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, meta, fmt.Errorf("imaging: decoding metadata: %w", err)
	}

	meshes := make([]*Mesh, 0, meta.StoneCount)
	for i := 0; i < meta.StoneCount; i++ {
		vb, ok := entries[fmt.Sprintf("v_%d.bin", i)]
		if !ok {
			return nil, meta, fmt.Errorf("imaging: container missing vertex buffer %d", i)
		}
		fb, ok := entries[fmt.Sprintf("f_%d.bin", i)]
		if !ok {
			return nil, meta, fmt.Errorf("imaging: container missing face buffer %d", i)
		}
		mesh := &Mesh{
			Vertices: readFloat32LE(vb),
			Faces:    readInt32LE(fb),
		}
		if len(mesh.Vertices)%3 != 0 || len(mesh.Faces)%3 != 0 {
			return nil, meta, fmt.Errorf("imaging: truncated buffers for stone %d", i)
		}
		meshes = append(meshes, mesh)
	}
	return meshes, meta, nil
}

func writeFloat32LE(w io.Writer, vals []float32) error {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

func writeInt32LE(w io.Writer, vals []int32) error {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	_, err := w.Write(buf)
	return err
}

func readFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func readInt32LE(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
