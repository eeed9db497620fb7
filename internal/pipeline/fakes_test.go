package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/phrazzld/adlens/internal/domain"
)

// calls records every collaborator call by item id.
type calls struct {
	mu   sync.Mutex
	byID map[string][]string
}

func newCalls() *calls {
	return &calls{byID: make(map[string][]string)}
}

func (c *calls) add(itemID, what string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[itemID] = append(c.byID[itemID], what)
}

func (c *calls) forItem(itemID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.byID[itemID]...)
}

func (c *calls) count(what string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, list := range c.byID {
		for _, w := range list {
			if w == what {
				n++
			}
		}
	}
	return n
}

type fakeLister struct {
	items []domain.Item
	err   error
	calls int
}

func (f *fakeLister) List(ctx context.Context, creds Credentials) ([]domain.Item, error) {
	f.calls++
	return f.items, f.err
}

type fakeResolver struct {
	calls *calls
	fail  map[string]error
}

func (f *fakeResolver) Resolve(ctx context.Context, creds Credentials, item domain.Item) (domain.MediaLocator, error) {
	f.calls.add(item.ID, "resolve")
	if err := f.fail[item.ID]; err != nil {
		return domain.MediaLocator{}, err
	}
	mediaType := domain.MediaTypeVideo
	if item.Metadata["type"] == "image" {
		mediaType = domain.MediaTypeImage
	}
	return domain.MediaLocator{ItemID: item.ID, URL: "https://cdn.example.com/" + item.ID, MediaType: mediaType}, nil
}

type fakeAcquirer struct {
	calls *calls
	dests map[string]string
	mu    sync.Mutex
}

func (f *fakeAcquirer) Acquire(ctx context.Context, locator domain.MediaLocator, dest string) (domain.MediaHandle, error) {
	f.calls.add(locator.ItemID, "acquire")
	f.mu.Lock()
	if f.dests == nil {
		f.dests = make(map[string]string)
	}
	f.dests[locator.ItemID] = dest
	f.mu.Unlock()
	return domain.MediaHandle{ItemID: locator.ItemID, Path: dest + "/media", MediaType: locator.MediaType}, nil
}

type fakeTranscriber struct {
	calls *calls
	texts map[string]string
	hook  func(ctx context.Context, itemID string) error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, media domain.MediaHandle) (domain.Transcript, error) {
	f.calls.add(media.ItemID, "transcribe")
	if f.hook != nil {
		if err := f.hook(ctx, media.ItemID); err != nil {
			return domain.Transcript{}, err
		}
	}
	text, ok := f.texts[media.ItemID]
	if !ok {
		text = "Try our new running shoes today and save twenty percent"
	}
	return domain.Transcript{ItemID: media.ItemID, Text: text}, nil
}

type fakeExtractor struct {
	calls *calls
}

func (f *fakeExtractor) Extract(ctx context.Context, media domain.MediaHandle, maxFrames int) (domain.FrameSet, error) {
	f.calls.add(media.ItemID, "extract")
	frames := make([]domain.Frame, 0, maxFrames)
	for i := 0; i < maxFrames; i++ {
		frames = append(frames, domain.Frame{ItemID: media.ItemID, Index: i, Path: fmt.Sprintf("%s/frame_%02d.jpg", media.Path, i)})
	}
	return domain.FrameSet{ItemID: media.ItemID, Frames: frames}, nil
}

type fakeText struct {
	calls *calls
}

func (f *fakeText) Analyze(ctx context.Context, transcript domain.Transcript) (domain.TranscriptAnalysis, error) {
	f.calls.add(transcript.ItemID, "analyze_text")
	return domain.TranscriptAnalysis{Summary: "Pitches a discount.", CallToAction: "Shop now"}, nil
}

type fakeVisual struct {
	calls *calls
}

func (f *fakeVisual) Analyze(ctx context.Context, frames domain.FrameSet) (domain.FrameAnalysis, error) {
	f.calls.add(frames.ItemID, "analyze_visual")
	return domain.FrameAnalysis{Summary: fmt.Sprintf("%d frames of product shots.", len(frames.Frames))}, nil
}

// fixture wires fakes into collaborators.
type fixture struct {
	calls       *calls
	lister      *fakeLister
	resolver    *fakeResolver
	acquirer    *fakeAcquirer
	transcriber *fakeTranscriber
}

func newFixture(itemIDs ...string) *fixture {
	c := newCalls()
	items := make([]domain.Item, 0, len(itemIDs))
	for _, id := range itemIDs {
		items = append(items, domain.Item{ID: id, Name: "Ad " + id})
	}
	return &fixture{
		calls:       c,
		lister:      &fakeLister{items: items},
		resolver:    &fakeResolver{calls: c, fail: map[string]error{}},
		acquirer:    &fakeAcquirer{calls: c},
		transcriber: &fakeTranscriber{calls: c, texts: map[string]string{}},
	}
}

func (f *fixture) collaborators() Collaborators {
	return Collaborators{
		Lister:      f.lister,
		Resolver:    f.resolver,
		Acquirer:    f.acquirer,
		Transcriber: f.transcriber,
		Extractor:   &fakeExtractor{calls: f.calls},
		Text:        &fakeText{calls: f.calls},
		Visual:      &fakeVisual{calls: f.calls},
	}
}
