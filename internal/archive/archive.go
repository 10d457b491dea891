package archive

import (
	"context"
	"time"

	"rovernet/internal/obs"
	"rovernet/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
)

// LinkSample is one periodic transport report of a node.
type LinkSample struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Session   uuid.UUID `gorm:"type:uuid;index"`
	Node      string    `gorm:"size:64;index"`
	Link      string    `gorm:"size:16"`
	SampledAt time.Time `gorm:"index"`

	DatagramsIn        uint64
	DatagramsOut       uint64
	BytesIn            uint64
	BytesOut           uint64
	MessagesSent       uint64
	MessagesDispatched uint64
	Malformed          uint64
	SendErrors         uint64
	FramesSent         uint64
	FramesCompleted    uint64
	FramesSuperseded   uint64
	StaleSections      uint64
	AssemblyAvgMicros  int64
	FlushAvgMicros     int64
}

func (LinkSample) TableName() string {
	return "link_samples"
}

// NewSample flattens a report.
func NewSample(session uuid.UUID, link string, report obs.Report) LinkSample {
	m := report.Metrics
	return LinkSample{
		Session:            session,
		Node:               report.Node,
		Link:               link,
		SampledAt:          time.Unix(0, report.Timestamp).UTC(),
		DatagramsIn:        m.DatagramsIn,
		DatagramsOut:       m.DatagramsOut,
		BytesIn:            m.BytesIn,
		BytesOut:           m.BytesOut,
		MessagesSent:       m.MessagesSent,
		MessagesDispatched: m.MessagesDispatched,
		Malformed:          m.Malformed,
		SendErrors:         m.SendErrors,
		FramesSent:         m.FramesSent,
		FramesCompleted:    m.FramesCompleted,
		FramesSuperseded:   m.FramesSuperseded,
		StaleSections:      m.StaleSections,
		AssemblyAvgMicros:  m.AssemblyLatency.Avg.Microseconds(),
		FlushAvgMicros:     m.FlushLatency.Avg.Microseconds(),
	}
}

// Archive stores samples of one node session.
type Archive struct {
	db      *gorm.DB
	session uuid.UUID
}

// New binds an archive to db under a fresh session id.
func New(db *gorm.DB) *Archive {
	return &Archive{db: db, session: uuid.New()}
}

// Session identifies this run in stored rows.
func (a *Archive) Session() uuid.UUID {
	return a.session
}

// Migrate creates or updates the tables.
func (a *Archive) Migrate(ctx context.Context) error {
	if a == nil || a.db == nil {
		return exception.ErrNilInstance
	}
	if err := a.db.WithContext(ctx).AutoMigrate(&LinkSample{}); err != nil {
		return errors.Wrap(err, "migrate link samples")
	}
	return nil
}

// Store writes one report.
func (a *Archive) Store(ctx context.Context, link string, report obs.Report) error {
	if a == nil || a.db == nil {
		return exception.ErrNilInstance
	}
	sample := NewSample(a.session, link, report)
	if err := a.db.WithContext(ctx).Create(&sample).Error; err != nil {
		return errors.Wrap(err, "store link sample").With("node", report.Node)
	}
	return nil
}

// Recent returns the newest samples of a node, newest first.
func (a *Archive) Recent(ctx context.Context, node string, limit int) ([]LinkSample, error) {
	if a == nil || a.db == nil {
		return nil, exception.ErrNilInstance
	}
	var samples []LinkSample
	err := a.db.WithContext(ctx).
		Where("node = ?", node).
		Order("sampled_at DESC").
		Limit(limit).
		Find(&samples).Error
	if err != nil {
		return nil, errors.Wrap(err, "query link samples").With("node", node)
	}
	return samples, nil
}
