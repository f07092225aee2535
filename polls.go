package gatherly

import (
	"context"
	"sync"
)

// PollFetcher fetches the vote state for a single poll message.
type PollFetcher interface {
	Votes(ctx context.Context, messageID, userID int64) (*PollVotes, error)
}

// PollVoteAggregator attaches vote tallies and the current user's vote set
// to every poll-encoded message in a freshly loaded page. Fetches run
// concurrently, one per poll message; a failed fetch leaves that message
// without vote data and never fails the page load.
type PollVoteAggregator struct {
	fetcher PollFetcher
	logf    func(format string, args ...any)
}

// NewPollVoteAggregator creates an aggregator over the given fetcher.
// logf may be nil.
func NewPollVoteAggregator(fetcher PollFetcher, logf func(format string, args ...any)) *PollVoteAggregator {
	return &PollVoteAggregator{fetcher: fetcher, logf: logf}
}

// Attach mutates msgs in place, filling PollVotes and PollUserVotes for
// each message whose content carries the poll sentinel.
func (a *PollVoteAggregator) Attach(ctx context.Context, msgs []Message, userID int64) {
	var wg sync.WaitGroup
	for i := range msgs {
		if !msgs[i].IsPoll() {
			continue
		}
		wg.Add(1)
		go func(m *Message) {
			defer wg.Done()
			votes, err := a.fetcher.Votes(ctx, m.ID, userID)
			if err != nil {
				if a.logf != nil {
					a.logf("gatherly: poll votes for message %d unavailable: %v", m.ID, err)
				}
				return
			}
			m.PollVotes = votes.Votes
			m.PollUserVotes = votes.UserVotes
		}(&msgs[i])
	}
	wg.Wait()
}
