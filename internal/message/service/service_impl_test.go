package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/authorization"
	channeldomain "github.com/smallbiznis/comms/internal/channel/domain"
	channelrepo "github.com/smallbiznis/comms/internal/channel/repository"
	channelservice "github.com/smallbiznis/comms/internal/channel/service"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/internal/config"
	"github.com/smallbiznis/comms/internal/identity"
	"github.com/smallbiznis/comms/internal/message/domain"
	"github.com/smallbiznis/comms/internal/message/repository"
	orgrepo "github.com/smallbiznis/comms/internal/organization/repository"
	"github.com/smallbiznis/comms/internal/providers/notify"
	"github.com/smallbiznis/comms/internal/realtime"
	"github.com/smallbiznis/comms/internal/testutil"
	"github.com/smallbiznis/comms/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	orgID snowflake.ID = 7
	alice snowflake.ID = 101 // owner
	bob   snowflake.ID = 102 // member
	carol snowflake.ID = 103 // admin
	dave  snowflake.ID = 104 // guest from outside the org
	erin  snowflake.ID = 105 // org member, not in the channel
)

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []realtime.Payload
}

func (p *recordingPublisher) Publish(_ context.Context, _ snowflake.ID, payload realtime.Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
}

func (p *recordingPublisher) kinds() []realtime.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]realtime.Kind, 0, len(p.payloads))
	for _, payload := range p.payloads {
		out = append(out, payload.Kind())
	}
	return out
}

func (p *recordingPublisher) last() realtime.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.payloads) == 0 {
		return nil
	}
	return p.payloads[len(p.payloads)-1]
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Dispatch(_ context.Context, notification notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) all() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.sent...)
}

type cdnResolver struct{}

func (cdnResolver) ResolveURL(_ context.Context, ref string) (string, error) {
	return "https://cdn.test/" + ref, nil
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (l stubLimiter) AllowPost(context.Context, snowflake.ID) (bool, error) {
	return l.allowed, l.err
}

type fixture struct {
	svc       domain.Service
	clock     *clock.FakeClock
	events    *recordingPublisher
	notifier  *recordingNotifier
	channelID snowflake.ID
}

type option func(*config.Policy, *Params)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	db := testutil.OpenDB(t)
	testutil.SeedOrg(t, db, orgID, alice, bob, carol, erin)

	enforcer, err := authorization.NewEnforcer()
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})
	node := testutil.Node(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	channels := channelservice.New(channelservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  channelrepo.Provide(),
		Orgs:  orgrepo.NewDirectory(db),
		Authz: authz,
	})

	f := &fixture{
		clock:    fake,
		events:   &recordingPublisher{},
		notifier: &recordingNotifier{},
	}
	policy := config.DefaultPolicy()
	params := Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Repo:      repository.Provide(),
		Channels:  channels,
		Authz:     authz,
		Publisher: f.events,
		Storage:   cdnResolver{},
		Notifier:  f.notifier,
	}
	for _, opt := range opts {
		opt(&policy, &params)
	}
	params.Policy = config.NewStaticPolicyHolder(policy)
	f.svc = New(params)

	ctx := context.Background()
	orgRef := orgID
	ch, err := channels.CreateChannel(ctx, as(alice), channeldomain.CreateChannelRequest{
		Type:  channeldomain.ChannelTypeGroup,
		OrgID: &orgRef,
		Name:  "general",
	})
	require.NoError(t, err)
	f.channelID = ch.ID
	for _, m := range []channeldomain.AddMemberRequest{
		{ChannelID: ch.ID, UserID: bob, Role: channeldomain.RoleMember},
		{ChannelID: ch.ID, UserID: carol, Role: channeldomain.RoleAdmin},
		{ChannelID: ch.ID, UserID: dave, IsGuest: true},
	} {
		_, err := channels.AddMember(ctx, as(alice), m)
		require.NoError(t, err)
	}

	// A second channel for cross-channel rules.
	_, err = channels.CreateChannel(ctx, as(erin), channeldomain.CreateChannelRequest{
		Type:  channeldomain.ChannelTypeGroup,
		OrgID: &orgRef,
		Name:  "random",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("events: %v", f.events.kinds())
		}
	})
	return f
}

func as(id snowflake.ID) identity.Actor {
	return identity.Actor{UserID: id, OrgID: orgID}
}

func (f *fixture) post(t *testing.T, author snowflake.ID, content string) *domain.MessageView {
	t.Helper()
	view, err := f.svc.CreateMessage(context.Background(), as(author), domain.CreateMessageRequest{
		ChannelID: f.channelID,
		Content:   content,
	})
	require.NoError(t, err)
	return view
}

func (f *fixture) reply(t *testing.T, author snowflake.ID, parentID snowflake.ID, content string) *domain.MessageView {
	t.Helper()
	view, err := f.svc.CreateMessage(context.Background(), as(author), domain.CreateMessageRequest{
		ChannelID:       f.channelID,
		Content:         content,
		ParentMessageID: &parentID,
	})
	require.NoError(t, err)
	return view
}

func ids(views []domain.MessageView) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(views))
	for _, v := range views {
		out = append(out, v.ID)
	}
	return out
}

func TestCreateAndListMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m1 := f.post(t, alice, "first")
	m2 := f.post(t, bob, "second")
	m3 := f.post(t, dave, "third")
	assert.Equal(t, "first", m1.Content)
	assert.False(t, m1.IsEdited)
	assert.Empty(t, m1.Reactions)

	page, err := f.svc.ListMessages(ctx, as(bob), domain.ListMessagesRequest{ChannelID: f.channelID, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{m3.ID, m2.ID}, ids(page.Messages))
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextPageToken)

	page, err = f.svc.ListMessages(ctx, as(bob), domain.ListMessagesRequest{ChannelID: f.channelID, PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{m1.ID}, ids(page.Messages))
	assert.False(t, page.HasMore)

	_, err = f.svc.ListMessages(ctx, as(bob), domain.ListMessagesRequest{ChannelID: f.channelID, PageToken: "not-a-token"})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)

	_, err = f.svc.ListMessages(ctx, as(erin), domain.ListMessagesRequest{ChannelID: f.channelID})
	assert.ErrorIs(t, err, channeldomain.ErrNotMember)

	assert.Equal(t, []realtime.Kind{realtime.KindMessageCreated, realtime.KindMessageCreated, realtime.KindMessageCreated}, f.events.kinds())
}

func TestCreateMessageValidation(t *testing.T) {
	f := newFixture(t, func(p *config.Policy, _ *Params) {
		p.MaxMessageLength = 10
		p.MaxAttachments = 2
	})
	ctx := context.Background()

	cases := []struct {
		name  string
		actor snowflake.ID
		req   domain.CreateMessageRequest
		want  error
	}{
		{"blank", alice, domain.CreateMessageRequest{ChannelID: f.channelID, Content: "   "}, domain.ErrEmptyMessage},
		{"too long", alice, domain.CreateMessageRequest{ChannelID: f.channelID, Content: strings.Repeat("x", 11)}, domain.ErrMessageTooLong},
		{"invalid utf8", alice, domain.CreateMessageRequest{ChannelID: f.channelID, Content: "\xff\xfe"}, domain.ErrInvalidContent},
		{"too many files", alice, domain.CreateMessageRequest{ChannelID: f.channelID, Content: "x", Attachments: []string{"a", "b", "c"}}, domain.ErrTooManyFiles},
		{"not a member", erin, domain.CreateMessageRequest{ChannelID: f.channelID, Content: "hi"}, channeldomain.ErrNotMember},
		{"unknown channel", alice, domain.CreateMessageRequest{ChannelID: 42, Content: "hi"}, channeldomain.ErrChannelNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateMessage(ctx, as(tc.actor), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.events.kinds())

	// Ten runes, not ten bytes.
	_, err := f.svc.CreateMessage(ctx, as(alice), domain.CreateMessageRequest{ChannelID: f.channelID, Content: strings.Repeat("é", 10)})
	assert.NoError(t, err)
}

func TestCreateMessageWithAttachmentsOnly(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.CreateMessage(context.Background(), as(bob), domain.CreateMessageRequest{
		ChannelID:   f.channelID,
		Attachments: []string{" deals/contract.pdf ", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "", view.Content)
	assert.Equal(t, []domain.Attachment{{Ref: "deals/contract.pdf", URL: "https://cdn.test/deals/contract.pdf"}}, view.Attachments)
}

func TestGuestPostingPolicy(t *testing.T) {
	f := newFixture(t, func(p *config.Policy, _ *Params) {
		p.GuestsCanPost = false
	})

	_, err := f.svc.CreateMessage(context.Background(), as(dave), domain.CreateMessageRequest{ChannelID: f.channelID, Content: "hello"})
	assert.ErrorIs(t, err, domain.ErrGuestsCannotPost)
	f.post(t, bob, "members still post")
}

func TestCreateMessageRateLimit(t *testing.T) {
	denied := newFixture(t, func(_ *config.Policy, p *Params) {
		p.Limiter = stubLimiter{allowed: false}
	})
	_, err := denied.svc.CreateMessage(context.Background(), as(bob), domain.CreateMessageRequest{ChannelID: denied.channelID, Content: "spam"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	broken := newFixture(t, func(_ *config.Policy, p *Params) {
		p.Limiter = stubLimiter{err: errors.New("redis down")}
	})
	broken.post(t, bob, "limiter outage lets this through")
}

func TestEditWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.post(t, bob, "draft")

	_, err := f.svc.EditMessage(ctx, as(alice), m.ID, "hijack")
	assert.ErrorIs(t, err, domain.ErrNotAuthor)

	f.clock.Advance(15 * time.Minute)
	edited, err := f.svc.EditMessage(ctx, as(bob), m.ID, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Content)
	assert.True(t, edited.IsEdited)

	edit, ok := f.events.last().(realtime.MessageEdited)
	require.True(t, ok)
	assert.Equal(t, m.ID, edit.MessageID)
	assert.Equal(t, "final", edit.Content)

	f.clock.Advance(time.Second)
	_, err = f.svc.EditMessage(ctx, as(bob), m.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrEditWindowExpired)

	got, err := f.svc.GetMessage(ctx, as(alice), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Content)

	_, err = f.svc.EditMessage(ctx, as(bob), m.ID, " ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
}

func TestDeleteMessageTombstone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.post(t, alice, "secret plan")

	err := f.svc.DeleteMessage(ctx, as(bob), m.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	err = f.svc.DeleteMessage(ctx, as(dave), m.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	require.NoError(t, f.svc.DeleteMessage(ctx, as(carol), m.ID))
	deleted, ok := f.events.last().(realtime.MessageDeleted)
	require.True(t, ok)
	assert.Equal(t, carol, deleted.DeletedBy)

	got, err := f.svc.GetMessage(ctx, as(bob), m.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Empty(t, got.Content)

	before := len(f.events.kinds())
	require.NoError(t, f.svc.DeleteMessage(ctx, as(alice), m.ID))
	assert.Len(t, f.events.kinds(), before)

	_, err = f.svc.EditMessage(ctx, as(alice), m.ID, "rewrite")
	assert.ErrorIs(t, err, domain.ErrMessageDeleted)
	_, err = f.svc.ToggleReaction(ctx, as(bob), m.ID, "👍")
	assert.ErrorIs(t, err, domain.ErrMessageDeleted)
	_, err = f.svc.PinMessage(ctx, as(carol), m.ID)
	assert.ErrorIs(t, err, domain.ErrMessageDeleted)

	own := f.post(t, dave, "mine")
	require.NoError(t, f.svc.DeleteMessage(ctx, as(dave), own.ID))

	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, as(alice), 999), domain.ErrMessageNotFound)
}

func TestToggleReaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.post(t, alice, "ship it")

	res, err := f.svc.ToggleReaction(ctx, as(bob), m.ID, " 👍 ")
	require.NoError(t, err)
	assert.Equal(t, domain.ReactionAdded, res.Outcome)
	assert.Equal(t, "👍", res.Emoji)
	assert.Equal(t, 1, res.Count)

	res, err = f.svc.ToggleReaction(ctx, as(dave), m.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	got, err := f.svc.GetMessage(ctx, as(bob), m.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.ReactionSummary{{Emoji: "👍", Count: 2, Mine: true}}, got.Reactions)

	got, err = f.svc.GetMessage(ctx, as(alice), m.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.ReactionSummary{{Emoji: "👍", Count: 2, Mine: false}}, got.Reactions)

	res, err = f.svc.ToggleReaction(ctx, as(bob), m.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, domain.ReactionRemoved, res.Outcome)
	assert.Equal(t, 1, res.Count)

	change, ok := f.events.last().(realtime.ReactionChanged)
	require.True(t, ok)
	assert.Equal(t, domain.ReactionRemoved, change.Outcome)
	assert.Equal(t, bob, change.UserID)

	for _, bad := range []string{"", "a b", strings.Repeat("x", 65), "\x07"} {
		_, err := f.svc.ToggleReaction(ctx, as(bob), m.ID, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidEmoji, "%q", bad)
	}

	_, err = f.svc.ToggleReaction(ctx, as(erin), m.ID, "👍")
	assert.ErrorIs(t, err, channeldomain.ErrNotMember)
}

func TestPinBannerOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.post(t, alice, "agenda")
	m2 := f.post(t, bob, "notes")
	m3 := f.post(t, bob, "decision")

	_, err := f.svc.PinMessage(ctx, as(bob), m1.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	for _, id := range []snowflake.ID{m1.ID, m2.ID, m3.ID} {
		f.clock.Advance(time.Minute)
		view, err := f.svc.PinMessage(ctx, as(carol), id)
		require.NoError(t, err)
		assert.True(t, view.IsPinned)
	}

	banner, err := f.svc.ListPinned(ctx, as(bob), f.channelID)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{m1.ID, m3.ID, m2.ID}, ids(banner))

	before := len(f.events.kinds())
	_, err = f.svc.PinMessage(ctx, as(carol), m2.ID)
	require.NoError(t, err)
	assert.Len(t, f.events.kinds(), before)

	unpinned, err := f.svc.UnpinMessage(ctx, as(alice), m1.ID)
	require.NoError(t, err)
	assert.False(t, unpinned.IsPinned)
	assert.Nil(t, unpinned.PinnedAt)
	_, ok := f.events.last().(realtime.MessageUnpinned)
	assert.True(t, ok)

	require.NoError(t, f.svc.DeleteMessage(ctx, as(bob), m3.ID))
	banner, err = f.svc.ListPinned(ctx, as(bob), f.channelID)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{m2.ID}, ids(banner))
}

func TestModeratorPinsWithoutMembership(t *testing.T) {
	f := newFixture(t)
	m := f.post(t, bob, "policy update")

	moderator := identity.Actor{UserID: 900, PlatformRole: identity.PlatformRoleModerator}
	view, err := f.svc.PinMessage(context.Background(), moderator, m.ID)
	require.NoError(t, err)
	assert.True(t, view.IsPinned)

	pinned, ok := f.events.last().(realtime.MessagePinned)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(900), pinned.PinnedBy)

	_, err = f.svc.ToggleReaction(context.Background(), moderator, m.ID, "👀")
	assert.ErrorIs(t, err, channeldomain.ErrNotMember)
}

func TestThreads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.post(t, alice, "kickoff")
	r1 := f.reply(t, bob, parent.ID, "one")
	r2 := f.reply(t, carol, parent.ID, "two")
	r3 := f.reply(t, dave, parent.ID, "three")

	created, ok := f.events.last().(realtime.MessageCreated)
	require.True(t, ok)
	require.NotNil(t, created.ParentReplyCount)
	assert.Equal(t, 3, *created.ParentReplyCount)

	got, err := f.svc.GetMessage(ctx, as(bob), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ReplyCount)

	top, err := f.svc.ListMessages(ctx, as(bob), domain.ListMessagesRequest{ChannelID: f.channelID})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{parent.ID}, ids(top.Messages))

	all, err := f.svc.ListMessages(ctx, as(bob), domain.ListMessagesRequest{ChannelID: f.channelID, IncludeReplies: true})
	require.NoError(t, err)
	assert.Len(t, all.Messages, 4)

	page, err := f.svc.ListThread(ctx, as(bob), domain.ListThreadRequest{ParentMessageID: parent.ID, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{r2.ID, r3.ID}, ids(page.Messages))
	assert.True(t, page.HasMore)

	page, err = f.svc.ListThread(ctx, as(bob), domain.ListThreadRequest{ParentMessageID: parent.ID, PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{r1.ID}, ids(page.Messages))
	assert.False(t, page.HasMore)

	// Replies nest one level only.
	nested := r1.ID
	_, err = f.svc.CreateMessage(ctx, as(bob), domain.CreateMessageRequest{ChannelID: f.channelID, Content: "deeper", ParentMessageID: &nested})
	assert.ErrorIs(t, err, domain.ErrInvalidParent)

	missing := snowflake.ID(424242)
	_, err = f.svc.CreateMessage(ctx, as(bob), domain.CreateMessageRequest{ChannelID: f.channelID, Content: "orphan", ParentMessageID: &missing})
	assert.ErrorIs(t, err, domain.ErrInvalidParent)

	// Deleting a reply leaves the parent's count alone.
	require.NoError(t, f.svc.DeleteMessage(ctx, as(bob), r1.ID))
	got, err = f.svc.GetMessage(ctx, as(bob), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ReplyCount)

	require.NoError(t, f.svc.DeleteMessage(ctx, as(alice), parent.ID))
	parentID := parent.ID
	_, err = f.svc.CreateMessage(ctx, as(bob), domain.CreateMessageRequest{ChannelID: f.channelID, Content: "late", ParentMessageID: &parentID})
	assert.ErrorIs(t, err, domain.ErrInvalidParent)
}

func TestMentionsNotifyChannelMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.post(t, alice, "<@101> <@102> please review, cc <@105>")
	require.Eventually(t, func() bool { return len(f.notifier.all()) == 1 }, time.Second, 5*time.Millisecond)

	n := f.notifier.all()[0]
	assert.Equal(t, notify.KindMention, n.Kind)
	assert.Equal(t, []snowflake.ID{bob}, n.Recipients)
	require.NotNil(t, n.MessageID)
	assert.Equal(t, m.ID, *n.MessageID)
	assert.Equal(t, alice, n.ActorID)

	_, err := f.svc.EditMessage(ctx, as(alice), m.ID, "<@102> <@103> please review")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.notifier.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []snowflake.ID{carol}, f.notifier.all()[1].Recipients)
}

func TestConcurrentRepliesReportDistinctCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.post(t, alice, "standup")
	parentID := parent.ID

	const replies = 8
	var wg sync.WaitGroup
	errs := make(chan error, replies)
	for i := 0; i < replies; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateMessage(ctx, as(bob), domain.CreateMessageRequest{
				ChannelID:       f.channelID,
				Content:         "here",
				ParentMessageID: &parentID,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var counts []int
	f.events.mu.Lock()
	for _, payload := range f.events.payloads {
		if created, ok := payload.(realtime.MessageCreated); ok && created.ParentReplyCount != nil {
			counts = append(counts, *created.ParentReplyCount)
		}
	}
	f.events.mu.Unlock()
	sort.Ints(counts)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, counts)

	got, err := f.svc.GetMessage(ctx, as(bob), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, replies, got.ReplyCount)
}

func TestConcurrentDuplicateToggleLeavesOneReaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.post(t, alice, "lunch?")

	const toggles = 8
	var wg sync.WaitGroup
	results := make(chan *domain.ToggleReactionResult, toggles)
	errs := make(chan error, toggles)
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ToggleReaction(ctx, as(bob), m.ID, "👍")
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(errs)
	close(results)

	for err := range errs {
		assert.ErrorIs(t, err, domain.ErrReactionConflict)
	}
	net := 0
	for res := range results {
		switch res.Outcome {
		case domain.ReactionAdded:
			net++
		case domain.ReactionRemoved:
			net--
		}
	}

	got, err := f.svc.GetMessage(ctx, as(bob), m.ID)
	require.NoError(t, err)
	require.LessOrEqual(t, len(got.Reactions), 1)
	stored := 0
	if len(got.Reactions) == 1 {
		assert.Equal(t, domain.ReactionSummary{Emoji: "👍", Count: 1, Mine: true}, got.Reactions[0])
		stored = got.Reactions[0].Count
	}
	assert.Equal(t, net, stored)
}
