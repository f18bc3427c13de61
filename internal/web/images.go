package web

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/example/tatkal-scheduler/internal/checkpoint"
	"github.com/example/tatkal-scheduler/internal/events"
)

// Images keeps checkpoint images (captchas) until shortly after their
// deadline so the UI can fetch them by checkpoint id.
type Images struct {
	c     *cache.Cache
	grace time.Duration
}

type image struct {
	data        []byte
	contentType string
}

func NewImages(grace time.Duration) *Images {
	if grace <= 0 {
		grace = time.Minute
	}
	return &Images{c: cache.New(grace, 2*grace), grace: grace}
}

func (i *Images) EmitStatus(context.Context, events.Status) {}

func (i *Images) CheckpointRequested(_ context.Context, req checkpoint.Request) {
	if len(req.Payload.Image) == 0 {
		return
	}
	ct := req.Payload.ContentType
	if ct == "" {
		ct = "image/png"
	}
	ttl := time.Until(req.Deadline) + i.grace
	if ttl <= 0 {
		return
	}
	i.c.Set(req.ID, image{data: req.Payload.Image, contentType: ct}, ttl)
}

func (i *Images) Get(id string) ([]byte, string, bool) {
	v, ok := i.c.Get(id)
	if !ok {
		return nil, "", false
	}
	img := v.(image)
	return img.data, img.contentType, true
}

var _ events.Sink = (*Images)(nil)
