package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Constraint names the kind of table constraint a driver error reports.
type Constraint int

const (
	ConstraintNone Constraint = iota
	ConstraintUnique
	ConstraintCheck
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// constraintMessages covers drivers that do not surface a typed error.
var constraintMessages = []struct {
	fragment string
	kind     Constraint
}{
	{"duplicate key value violates unique constraint", ConstraintUnique},
	{"Error 1062", ConstraintUnique},
	{"UNIQUE constraint failed", ConstraintUnique},
	{"violates check constraint", ConstraintCheck},
	{"Error 3819", ConstraintCheck},
	{"CHECK constraint failed", ConstraintCheck},
}

// ClassifyConstraint reports which constraint, if any, rejected a statement.
// gorm translated errors, pgx errors and raw driver messages are recognised.
func ClassifyConstraint(err error) Constraint {
	if err == nil {
		return ConstraintNone
	}
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ConstraintUnique
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return ConstraintCheck
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ConstraintUnique
		case pgCheckViolation:
			return ConstraintCheck
		}
	}

	msg := err.Error()
	for _, m := range constraintMessages {
		if strings.Contains(msg, m.fragment) {
			return m.kind
		}
	}
	return ConstraintNone
}

func IsDuplicateKeyErr(err error) bool {
	return ClassifyConstraint(err) == ConstraintUnique
}

// IsCheckViolation is how a balance that would go negative shows up when the
// conditional update is bypassed.
func IsCheckViolation(err error) bool {
	return ClassifyConstraint(err) == ConstraintCheck
}

// IsConstraintViolation reports errors that map to a domain outcome rather
// than an infrastructure failure.
func IsConstraintViolation(err error) bool {
	return ClassifyConstraint(err) != ConstraintNone
}
