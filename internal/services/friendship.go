package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"hive-chat/internal/errorx"
	"hive-chat/internal/events"
	"hive-chat/internal/models"
	"hive-chat/internal/repositories"
)

// FriendshipLedger manages friend requests and the public profile copy they resolve against.
type FriendshipLedger struct {
	profiles    repositories.ProfileRepository
	friendships repositories.FriendshipRepository
	notifier    Notifier
	publisher   events.Publisher
	clock       Clock
	logger      *zap.Logger
}

func NewFriendshipLedger(
	profiles repositories.ProfileRepository,
	friendships repositories.FriendshipRepository,
	notifier Notifier,
	publisher events.Publisher,
	clock Clock,
	logger *zap.Logger,
) *FriendshipLedger {
	return &FriendshipLedger{
		profiles:    profiles,
		friendships: friendships,
		notifier:    notifier,
		publisher:   publisherOrNop(publisher),
		clock:       clock,
		logger:      loggerOrNop(logger),
	}
}

// SendRequest creates a pending friend request from requester to the user with the given
// display name.
func (l *FriendshipLedger) SendRequest(ctx context.Context, requester models.Profile, targetDisplayName string) (f models.Friendship, err error) {
	ctx, span := tracer.Start(ctx, "FriendshipLedger.SendRequest")
	defer func() { finishSpan(span, err) }()

	name := strings.TrimSpace(targetDisplayName)
	if name == "" {
		return models.Friendship{}, errorx.Validation("display name is required")
	}

	matches, err := l.profiles.FindByDisplayName(ctx, name)
	if err != nil {
		return models.Friendship{}, err
	}
	if len(matches) == 0 {
		return models.Friendship{}, errorx.NotFound("no user with that display name")
	}
	if len(matches) > 1 {
		l.logger.Warn("display name is ambiguous, using oldest profile",
			zap.String("display_name", name), zap.Int("matches", len(matches)), zap.String("uid", matches[0].UID))
	}
	target := matches[0]
	if target.UID == requester.UID {
		return models.Friendship{}, errorx.ErrSelfRequest
	}

	existing, err := l.friendships.FindByPair(ctx, requester.UID, target.UID)
	if err != nil {
		return models.Friendship{}, err
	}
	if existing != nil {
		switch existing.Status {
		case models.FriendshipAccepted:
			return models.Friendship{}, errorx.ErrAlreadyFriends
		case models.FriendshipDeclined:
			return models.Friendship{}, errorx.Conflict("friend request was declined")
		default:
			return models.Friendship{}, errorx.Conflict("friend request already pending")
		}
	}

	now := l.clock.Now()
	pair := models.CanonicalPair(requester.UID, target.UID)
	f, err = l.friendships.CreateFriendship(ctx, models.Friendship{
		ID:           uuid.NewString(),
		Participants: []string{pair[0], pair[1]},
		Status:       models.FriendshipPending,
		InitiatedBy:  requester.UID,
		FriendlyNames: map[string]string{
			requester.UID: requester.DisplayName,
			target.UID:    target.DisplayName,
		},
		PhotoURLs: map[string]string{
			requester.UID: requester.PhotoURL,
			target.UID:    target.PhotoURL,
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return models.Friendship{}, err
	}
	span.SetAttributes(attribute.String("friendship.id", f.ID))

	l.publishChange(f)
	text := fmt.Sprintf("%s sent you a friend request.", requester.DisplayName)
	if l.notifier != nil {
		if _, nerr := l.notifier.Notify(ctx, requester.UID, text, []string{target.UID}, nil); nerr != nil {
			l.logger.Warn("friend request notification failed", zap.String("friendship_id", f.ID), zap.Error(nerr))
		}
	}
	return f, nil
}

// Respond accepts or declines a pending request. Only the invited user may answer.
func (l *FriendshipLedger) Respond(ctx context.Context, friendshipID, responderUID string, decision models.FriendshipStatus) (f models.Friendship, err error) {
	ctx, span := tracer.Start(ctx, "FriendshipLedger.Respond")
	defer func() { finishSpan(span, err) }()

	if decision != models.FriendshipAccepted && decision != models.FriendshipDeclined {
		return models.Friendship{}, errorx.Validation("decision must be accepted or declined")
	}

	current, err := l.friendships.GetFriendship(ctx, friendshipID)
	if err != nil {
		return models.Friendship{}, err
	}
	if !current.HasParticipant(responderUID) || current.InitiatedBy == responderUID {
		return models.Friendship{}, errorx.Forbidden("only the invited user can respond")
	}
	if current.Status != models.FriendshipPending {
		return models.Friendship{}, errorx.Conflict("friend request is no longer pending")
	}

	f, err = l.friendships.UpdateFriendshipStatus(ctx, friendshipID, models.FriendshipPending, decision, l.clock.Now())
	if errors.Is(err, repositories.ErrStatusChanged) {
		return models.Friendship{}, errorx.Conflict("friend request is no longer pending")
	}
	if err != nil {
		return models.Friendship{}, err
	}

	l.publishChange(f)
	return f, nil
}

// Friends lists uid's accepted friendships seen from uid's side.
func (l *FriendshipLedger) Friends(ctx context.Context, uid string) ([]models.Friend, error) {
	list, err := l.friendships.ListFriendships(ctx, uid, models.FriendshipAccepted)
	if err != nil {
		return nil, err
	}
	out := make([]models.Friend, 0, len(list))
	for _, f := range list {
		other := f.Other(uid)
		out = append(out, models.Friend{
			FriendshipID: f.ID,
			UID:          other,
			DisplayName:  f.FriendlyNames[other],
			PhotoURL:     f.PhotoURLs[other],
		})
	}
	return out, nil
}

// Invitations splits uid's pending requests into sent and received.
func (l *FriendshipLedger) Invitations(ctx context.Context, uid string) (models.Invitations, error) {
	list, err := l.friendships.ListFriendships(ctx, uid, models.FriendshipPending)
	if err != nil {
		return models.Invitations{}, err
	}
	inv := models.Invitations{Sent: []models.Friendship{}, Received: []models.Friendship{}}
	for _, f := range list {
		if f.InitiatedBy == uid {
			inv.Sent = append(inv.Sent, f)
		} else {
			inv.Received = append(inv.Received, f)
		}
	}
	return inv, nil
}

func (l *FriendshipLedger) AreFriends(ctx context.Context, a, b string) (bool, error) {
	f, err := l.friendships.FindByPair(ctx, a, b)
	if err != nil {
		return false, err
	}
	return f != nil && f.Status == models.FriendshipAccepted, nil
}

// SearchProfiles returns profiles whose display name starts with prefix, newest first.
func (l *FriendshipLedger) SearchProfiles(ctx context.Context, prefix string, limit int) ([]models.Profile, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []models.Profile{}, nil
	}
	out, err := l.profiles.SearchByPrefix(ctx, prefix, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Profile{}
	}
	return out, nil
}

// UpsertProfile refreshes the public copy of a user's profile.
func (l *FriendshipLedger) UpsertProfile(ctx context.Context, profile models.Profile) (models.Profile, error) {
	profile.DisplayName = strings.TrimSpace(profile.DisplayName)
	if profile.UID == "" {
		return models.Profile{}, errorx.Validation("uid is required")
	}
	if profile.DisplayName == "" {
		return models.Profile{}, errorx.Validation("display name is required")
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = l.clock.Now()
	}
	return l.profiles.UpsertProfile(ctx, profile)
}

func (l *FriendshipLedger) Profile(ctx context.Context, uid string) (models.Profile, error) {
	return l.profiles.GetProfile(ctx, uid)
}

func (l *FriendshipLedger) publishChange(f models.Friendship) {
	l.publisher.Publish(events.ChangeEvent{
		Kind:       events.KindFriendshipChanged,
		Recipients: append([]string(nil), f.Participants...),
		Friendship: &f,
	})
}
