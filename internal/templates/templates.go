// Package templates stores reusable route and passenger presets per
// operator, so a Tatkal morning needs only a journey date.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/tatkal-scheduler/internal/booking"
	"github.com/example/tatkal-scheduler/internal/db"
)

type Template struct {
	ID         int64  `json:"id"`
	OperatorID int64  `json:"-"`
	Name       string `json:"name"`

	Origin      string              `json:"origin"`
	Destination string              `json:"destination"`
	Class       booking.TravelClass `json:"class"`
	TrainNumber string              `json:"train_number,omitempty"`
	Passengers  []booking.Passenger `json:"passengers"`

	CredentialRef   string          `json:"credential_ref"`
	Payment         booking.Payment `json:"payment"`
	AutoUpgrade     bool            `json:"auto_upgrade"`
	TravelInsurance bool            `json:"travel_insurance"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Request builds a booking request for the given journey date.
func (t Template) Request(date time.Time) booking.Request {
	return booking.Request{
		Journey: booking.Journey{
			Origin:      t.Origin,
			Destination: t.Destination,
			Date:        date,
			Class:       t.Class,
			TrainNumber: t.TrainNumber,
		},
		Passengers:      append([]booking.Passenger(nil), t.Passengers...),
		CredentialRef:   t.CredentialRef,
		Payment:         t.Payment,
		AutoUpgrade:     t.AutoUpgrade,
		TravelInsurance: t.TravelInsurance,
	}
}

// Validate checks the template as if it were booked tomorrow.
func (t Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name required", booking.ErrInvalidRequest)
	}
	return t.Request(time.Now().AddDate(0, 0, 1)).Validate()
}

type Repo struct{ db db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{db: q} }

const columns = `id,operator_id,name,origin,destination,travel_class,train_number,passengers,credential_ref,payment,auto_upgrade,travel_insurance,created_at,updated_at`

// Save inserts a template or replaces the operator's template of the same
// name.
func (r *Repo) Save(ctx context.Context, t Template) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	pax, err := json.Marshal(t.Passengers)
	if err != nil {
		return 0, err
	}
	pay, err := json.Marshal(t.Payment)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.db.QueryRow(ctx, `
INSERT INTO booking_templates(operator_id,name,origin,destination,travel_class,train_number,passengers,credential_ref,payment,auto_upgrade,travel_insurance)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (operator_id,name) DO UPDATE SET
	origin=EXCLUDED.origin, destination=EXCLUDED.destination, travel_class=EXCLUDED.travel_class,
	train_number=EXCLUDED.train_number, passengers=EXCLUDED.passengers, credential_ref=EXCLUDED.credential_ref,
	payment=EXCLUDED.payment, auto_upgrade=EXCLUDED.auto_upgrade, travel_insurance=EXCLUDED.travel_insurance,
	updated_at=now()
RETURNING id`,
		t.OperatorID, t.Name, t.Origin, t.Destination, string(t.Class), t.TrainNumber, pax, t.CredentialRef, pay, t.AutoUpgrade, t.TravelInsurance,
	).Scan(&id)
	return id, db.WrapNotFound(err)
}

func (r *Repo) ListByOperator(ctx context.Context, operatorID int64) ([]Template, error) {
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM booking_templates WHERE operator_id=$1 ORDER BY name`, operatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repo) GetByName(ctx context.Context, operatorID int64, name string) (Template, error) {
	t, err := scan(r.db.QueryRow(ctx, `SELECT `+columns+` FROM booking_templates WHERE operator_id=$1 AND name=$2`, operatorID, name))
	if err != nil {
		return Template{}, db.WrapNotFound(err)
	}
	return t, nil
}

func (r *Repo) Delete(ctx context.Context, operatorID int64, name string) error {
	return r.db.Exec(ctx, `DELETE FROM booking_templates WHERE operator_id=$1 AND name=$2`, operatorID, name)
}

func scan(row db.Row) (Template, error) {
	var (
		t        Template
		class    string
		pax, pay []byte
	)
	if err := row.Scan(&t.ID, &t.OperatorID, &t.Name, &t.Origin, &t.Destination, &class, &t.TrainNumber,
		&pax, &t.CredentialRef, &pay, &t.AutoUpgrade, &t.TravelInsurance, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Template{}, err
	}
	t.Class = booking.TravelClass(class)
	if err := json.Unmarshal(pax, &t.Passengers); err != nil {
		return Template{}, fmt.Errorf("template %d passengers: %w", t.ID, err)
	}
	if len(pay) > 0 {
		if err := json.Unmarshal(pay, &t.Payment); err != nil {
			return Template{}, fmt.Errorf("template %d payment: %w", t.ID, err)
		}
	}
	return t, nil
}

// IsNotFound reports a missing template.
func IsNotFound(err error) bool { return errors.Is(err, db.ErrNotFound) }
