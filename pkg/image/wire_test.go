package image

import (
	"bytes"
	"strings"
	"testing"

	"github.com/peridot-lang/peridot/pkg/bytecode"
)

func sampleProgram() *bytecode.Program {
	main := bytecode.NewCodeObject("{main}")
	idx := main.AddConstant(bytecode.StringConst("hello"))
	main.Emit(bytecode.OpConst, idx)
	main.Emit(bytecode.OpEcho, 1)
	main.Emit(bytecode.OpReturnNull)
	return &bytecode.Program{Version: bytecode.FormatVersion, Main: main}
}

func TestNewStampsIdentity(t *testing.T) {
	src := []byte(`echo "hello";`)
	img := New(sampleProgram(), src)
	if img.BuildID == "" {
		t.Error("BuildID is empty")
	}
	if img.BuiltAt == 0 {
		t.Error("BuiltAt is zero")
	}
	if !bytes.Equal(img.SourceSum, SourceDigest(src)) {
		t.Error("SourceSum does not match SourceDigest")
	}

	if img2 := New(sampleProgram(), nil); img2.SourceSum != nil {
		t.Error("SourceSum set without source")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	img := New(sampleProgram(), []byte("src"))
	data, err := Marshal(img)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PDOT")) {
		t.Errorf("data starts with %q", data[:4])
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.BuildID != img.BuildID {
		t.Errorf("BuildID = %q, want %q", got.BuildID, img.BuildID)
	}
	if got.BuiltAt != img.BuiltAt {
		t.Errorf("BuiltAt = %d, want %d", got.BuiltAt, img.BuiltAt)
	}
	if !bytes.Equal(got.SourceSum, img.SourceSum) {
		t.Error("SourceSum changed in transit")
	}
	if got.Program.Main.Name != "{main}" {
		t.Errorf("Main.Name = %q", got.Program.Main.Name)
	}
	if !bytes.Equal(got.Program.Main.Code, img.Program.Main.Code) {
		t.Error("bytecode changed in transit")
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	img := New(sampleProgram(), []byte("src"))
	a, err := Marshal(img)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(img)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical image encodes to different bytes")
	}
}

func TestMarshalRequiresProgram(t *testing.T) {
	if _, err := Marshal(&Image{BuildID: "x"}); err == nil {
		t.Fatal("Marshal accepted an image without a program")
	}
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	_, err := Unmarshal([]byte("NOPE\x00\x01rest"))
	if err == nil || !strings.Contains(err.Error(), "not a peridot image") {
		t.Fatalf("err = %v", err)
	}
}

func TestUnmarshalRejectsShortData(t *testing.T) {
	_, err := Unmarshal([]byte("PDOT"))
	if err == nil {
		t.Fatal("Unmarshal accepted truncated data")
	}
}

func TestUnmarshalRejectsContainerVersion(t *testing.T) {
	data, err := Marshal(New(sampleProgram(), nil))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	data[4], data[5] = 0x00, 0x63
	_, err = Unmarshal(data)
	if err == nil || !strings.Contains(err.Error(), "container version 99") {
		t.Fatalf("err = %v", err)
	}
}

func TestUnmarshalRejectsBytecodeVersion(t *testing.T) {
	prog := sampleProgram()
	prog.Version = bytecode.FormatVersion + 1
	data, err := Marshal(&Image{BuildID: "x", Program: prog})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	_, err = Unmarshal(data)
	if err == nil || !strings.Contains(err.Error(), "bytecode version") {
		t.Fatalf("err = %v", err)
	}
}

func TestSourceDigestIsStable(t *testing.T) {
	a := SourceDigest([]byte("same"))
	b := SourceDigest([]byte("same"))
	c := SourceDigest([]byte("different"))
	if !bytes.Equal(a, b) {
		t.Error("same source digests differ")
	}
	if bytes.Equal(a, c) {
		t.Error("different sources share a digest")
	}
	if len(a) != 32 {
		t.Errorf("digest length = %d, want 32", len(a))
	}
}
