package storage

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeBuildVersionMismatch(t *testing.T) {
	b := sampleBuild("b1", time.Now().UTC())
	b.CodecVersion = CurrentCodecVersion + 1
	payload, err := EncodeBuild(b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeBuild(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestCurriculumCodecRoundTrip(t *testing.T) {
	payload, err := EncodeCurriculum(sampleCurriculum("c1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c, err := DecodeCurriculum(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.ID != "c1" || c.Stages[0].Override.Value == nil || *c.Stages[0].Override.Value != 6 {
		t.Fatalf("unexpected curriculum: %+v", c)
	}
}

func TestDecodeCurriculumRejectsGarbage(t *testing.T) {
	if _, err := DecodeCurriculum([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}
