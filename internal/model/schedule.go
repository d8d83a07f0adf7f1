package model

import (
	"fmt"
	"time"
)

type OwnerKind string

const (
	OwnerKindInstructor OwnerKind = "instructor"
	OwnerKindClient     OwnerKind = "client"
	OwnerKindBranch     OwnerKind = "branch"
)

func (k OwnerKind) Valid() bool {
	switch k {
	case OwnerKindInstructor, OwnerKindClient, OwnerKindBranch:
		return true
	}
	return false
}

// OwnerRef identifies the entity whose calendar a schedule represents
type OwnerRef struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func (o OwnerRef) String() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}

type Schedule struct {
	ID          string        `json:"id"`
	Owner       OwnerRef      `json:"owner"`
	Granularity time.Duration `json:"granularity"` // длина одного слота
	CreatedAt   time.Time     `json:"created_at"`
}
