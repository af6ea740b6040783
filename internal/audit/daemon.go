package audit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Daemon consumes the consultation firehose and writes the audit log. It
// joins a queue group, so running several daemons splits the load instead
// of duplicating rows.
type Daemon struct {
	nc  *nats.Conn
	db  *sqlx.DB
	sub *nats.Subscription

	errors chan error
	stop   chan struct{}
}

func New(natsAddr string, db *sqlx.DB) (*Daemon, error) {
	nc, err := nats.Connect(natsAddr, nats.NoEcho())
	if err != nil {
		return nil, err
	}

	daemon := &Daemon{
		nc:     nc,
		db:     db,
		errors: make(chan error),
		stop:   make(chan struct{}),
	}

	return daemon, nil
}

func (d *Daemon) Run() error {
	log.Info().Str("service", "audit").Msg("start audit daemon")

	var err error
	d.sub, err = d.nc.QueueSubscribe(SubscriptionSubject, SubscriptionQueue, func(msg *nats.Msg) {
		if err := d.record(msg); err != nil {
			d.errors <- err
		}
	})
	if err != nil {
		return err
	}

	for {
		select {
		case err := <-d.errors:
			log.Error().Err(err).Str("service", "audit").Msg("")
		case <-d.stop:
			return d.shutdown()
		}
	}
}

func (d *Daemon) Stop() {
	close(d.stop)
}

func (d *Daemon) shutdown() error {
	log.Info().Str("service", "audit").Msg("stop audit daemon")

	if err := d.sub.Unsubscribe(); err != nil {
		log.Error().Err(err).Str("service", "audit").Msg("can't unsubscribe")
	}

	return d.nc.Drain()
}

func (d *Daemon) record(msg *nats.Msg) error {
	log.Debug().Str("service", "audit").Str("data", string(msg.Data)).Msg("received event")

	payload := &Message{}

	r := bytes.NewReader(msg.Data)
	if err := json.NewDecoder(r).Decode(payload); err != nil {
		return fmt.Errorf("audit decode error: %v, payload: %s", err, string(msg.Data))
	}

	_, err := d.db.Exec(
		`INSERT INTO consultation_audit_log
		  (event, consultation_id, doctor_id, patient_id, room_name, state, created_at, ended_at, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		payload.Event,
		payload.ConsultationID,
		string(payload.DoctorID),
		string(payload.PatientID),
		payload.RoomName,
		string(payload.State),
		payload.CreatedAt,
		payload.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("audit insert error: %v", err)
	}

	return nil
}
