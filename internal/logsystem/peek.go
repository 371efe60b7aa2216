package logsystem

import (
	"context"
	"sort"
)

// Message is one tagged mutation as returned by a peek.
type Message struct {
	Version    Version
	SubVersion int32
	Tag        Tag
	Data       []byte
}

// PeekRequest asks a server for messages tagged Tag at or after Begin.
type PeekRequest struct {
	Tag   Tag     `json:"tag"`
	Begin Version `json:"begin"`
}

// PeekReply is a page of messages plus whether the server has nothing
// further to offer at this time (as opposed to simply returning the page
// it currently has buffered).
type PeekReply struct {
	Messages    []Message `json:"messages"`
	EndOfStream bool      `json:"end_of_stream"`
}

// Cursor is the peek cursor interface, implemented by ServerPeekCursor,
// MergedPeekCursor, MultiCursor and emptyCursor; a single LogSet's cursor is
// assembled from these by buildSetCursor.
type Cursor interface {
	// GetNext returns the next message in version order. ok is false
	// once the cursor has no more messages to offer within its range.
	GetNext(ctx context.Context) (msg Message, ok bool, err error)
}

// emptyCursor never yields anything; used for the empty-ServerPeekCursor
// cases the routing functions fall back to (S6, txs-tag exhaustion).
type emptyCursor struct{}

func (emptyCursor) GetNext(ctx context.Context) (Message, bool, error) { return Message{}, false, nil }

// ServerPeekCursor reads one server, paging through PeekRequest/PeekReply
// until the server reports end-of-stream or the cursor's End is reached.
type ServerPeekCursor struct {
	client  LogServerClient
	tag     Tag
	next    Version
	end     Version
	buf     []Message
	bufIdx  int
	done    bool
}

func NewServerPeekCursor(client LogServerClient, tag Tag, begin, end Version) *ServerPeekCursor {
	return &ServerPeekCursor{client: client, tag: tag, next: begin, end: end}
}

func (c *ServerPeekCursor) GetNext(ctx context.Context) (Message, bool, error) {
	for {
		if c.bufIdx < len(c.buf) {
			m := c.buf[c.bufIdx]
			c.bufIdx++
			return m, true, nil
		}
		if c.done || c.next >= c.end || c.client == nil {
			return Message{}, false, nil
		}

		reply, err := c.client.Peek(ctx, PeekRequest{Tag: c.tag, Begin: c.next})
		if err != nil {
			return Message{}, false, err
		}

		c.buf = reply.Messages
		c.bufIdx = 0
		if len(c.buf) > 0 {
			c.next = c.buf[len(c.buf)-1].Version + 1
		}
		if reply.EndOfStream {
			c.done = true
		}
		if len(c.buf) == 0 {
			return Message{}, false, nil
		}
	}
}

// MergedPeekCursor merges several ServerPeekCursors carrying replicas of
// the same tag, always advancing whichever replica holds the lowest
// pending version and deduplicating identical (version, subversion) pairs
// across replicas.
type MergedPeekCursor struct {
	cursors []Cursor
	pending []*Message
	ready   []bool
	lastV   Version
	lastSub int32
	hasLast bool
}

func NewMergedPeekCursor(cursors []Cursor) *MergedPeekCursor {
	return &MergedPeekCursor{
		cursors: cursors,
		pending: make([]*Message, len(cursors)),
		ready:   make([]bool, len(cursors)),
		lastV:   InvalidVersion,
	}
}

func (c *MergedPeekCursor) fill(ctx context.Context, i int) error {
	if c.ready[i] {
		return nil
	}
	m, ok, err := c.cursors[i].GetNext(ctx)
	if err != nil {
		return err
	}
	if ok {
		c.pending[i] = &m
	} else {
		c.pending[i] = nil
	}
	c.ready[i] = true
	return nil
}

func (c *MergedPeekCursor) GetNext(ctx context.Context) (Message, bool, error) {
	for {
		best := -1
		for i := range c.cursors {
			if err := c.fill(ctx, i); err != nil {
				return Message{}, false, err
			}
			if c.pending[i] == nil {
				continue
			}
			if best == -1 || less(*c.pending[i], *c.pending[best]) {
				best = i
			}
		}
		if best == -1 {
			return Message{}, false, nil
		}

		m := *c.pending[best]
		c.pending[best] = nil
		c.ready[best] = false

		if c.hasLast && m.Version == c.lastV && m.SubVersion == c.lastSub {
			continue
		}
		c.lastV, c.lastSub, c.hasLast = m.Version, m.SubVersion, true
		return m, true, nil
	}
}

func less(a, b Message) bool {
	if a.Version != b.Version {
		return a.Version < b.Version
	}
	return a.SubVersion < b.SubVersion
}

// buildSetCursor builds the cursor for one LogSet's contribution to a peek.
// When the set HasBestPolicy and a best location exists for tag, a single
// ServerPeekCursor is used (that server uniquely carries the tag, per this
// LogSet's push routing). Otherwise a cursor on every server of the set is
// merged.
func buildSetCursor(ctx context.Context, set *LogSet, tag Tag, begin, end Version, dialer ClientDialer) Cursor {
	if set == nil || len(set.LogServers) == 0 {
		return emptyCursor{}
	}

	if set.HasBestPolicy {
		if idx, ok := set.BestLocationForTag(tag); ok {
			client := dialClientOrNil(dialer, set.LogServers[idx])
			return NewServerPeekCursor(client, tag, begin, end)
		}
	}

	var cursors []Cursor
	for i, h := range set.LogServers {
		if !set.MatchesLocality(tag.Locality) && i >= len(set.TLogLocalities) {
			continue
		}
		client := dialClientOrNil(dialer, h)
		cursors = append(cursors, NewServerPeekCursor(client, tag, begin, end))
	}
	if len(cursors) == 0 {
		return emptyCursor{}
	}
	if len(cursors) == 1 {
		return cursors[0]
	}
	return NewMergedPeekCursor(cursors)
}

func dialClientOrNil(dialer ClientDialer, h *ServerHandle) LogServerClient {
	iface, present := h.Get()
	if !present {
		return nil
	}
	client, err := dialer.Dial(iface)
	if err != nil {
		return nil
	}
	return client
}

// MultiCursor sequences sub-cursors spanning successive generations,
// exhausting each before moving to the next. Boundaries are informational
// (they describe where one sub-cursor's range ends and the next begins)
// and are retained for callers that want to report them.
type MultiCursor struct {
	subCursors []Cursor
	boundaries []Version
	idx        int
}

func NewMultiCursor(subCursors []Cursor, boundaries []Version) *MultiCursor {
	return &MultiCursor{subCursors: subCursors, boundaries: boundaries}
}

func (c *MultiCursor) GetNext(ctx context.Context) (Message, bool, error) {
	for c.idx < len(c.subCursors) {
		m, ok, err := c.subCursors[c.idx].GetNext(ctx)
		if err != nil {
			return Message{}, false, err
		}
		if ok {
			return m, true, nil
		}
		c.idx++
	}
	return Message{}, false, nil
}

// findLocalMatch returns the first local set matching tagLocality, and
// among those, prefers one with HasBestPolicy set.
func findLocalMatch(sets []*LogSet, tagLocality Locality) *LogSet {
	var fallback *LogSet
	for _, s := range sets {
		if !s.IsLocal || !s.MatchesLocality(tagLocality) {
			continue
		}
		if s.HasBestPolicy {
			return s
		}
		if fallback == nil {
			fallback = s
		}
	}
	return fallback
}

// peekAll implements the local (non-remote) peek routing: serve the
// current epoch directly when begin is at or after every local set's
// start version, otherwise stitch older generations in as a MultiCursor.
func (ls *LogSystem) peekAll(ctx context.Context, tag Tag, begin, end Version, throwIfDead bool) (Cursor, error) {
	ls.mu.RLock()
	localSets := localOf(ls.logSets)
	oldGenerations := ls.oldLogData
	ls.mu.RUnlock()

	var lastBegin Version
	for _, s := range localSets {
		lastBegin = maxVersion(lastBegin, s.StartVersion)
	}

	currentSet := findLocalMatch(localSets, tag.Locality)

	if begin >= lastBegin {
		return buildSetCursor(ctx, currentSet, tag, begin, end, ls.dialer), nil
	}

	// oldCursors/oldBoundaries are accumulated newest-old-generation-first
	// (the order old LogData is kept in); they are reversed below so the
	// MultiCursor replays strictly increasing version ranges, oldest
	// generation through to the current epoch.
	var oldCursors []Cursor
	var oldBoundaries []Version

	covered := lastBegin
	for _, gen := range oldGenerations {
		if begin >= covered {
			break
		}
		genSet := findLocalMatch(gen.LogSets, tag.Locality)
		genBegin := maxVersion(gen.startVersion(), begin)
		genEnd := minVersion(covered, end)
		oldCursors = append(oldCursors, buildSetCursor(ctx, genSet, tag, genBegin, genEnd, ls.dialer))
		oldBoundaries = append(oldBoundaries, genEnd)
		covered = gen.startVersion()
	}

	if begin < covered {
		if tag == TxsTag {
			oldCursors = append(oldCursors, emptyCursor{})
			oldBoundaries = append(oldBoundaries, covered)
		} else if throwIfDead {
			return nil, ErrWorkerRemoved
		} else {
			oldCursors = append(oldCursors, emptyCursor{})
			oldBoundaries = append(oldBoundaries, covered)
		}
	}

	reverseCursors(oldCursors)
	reverseVersions(oldBoundaries)

	subCursors := append(oldCursors, buildSetCursor(ctx, currentSet, tag, lastBegin, end, ls.dialer))
	boundaries := append(oldBoundaries, minVersion(lastBegin, end))

	return NewMultiCursor(subCursors, boundaries), nil
}

func reverseCursors(cs []Cursor) {
	for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
		cs[i], cs[j] = cs[j], cs[i]
	}
}

func reverseVersions(vs []Version) {
	for i, j := 0, len(vs)-1; i < j; i, j = i+1, j-1 {
		vs[i], vs[j] = vs[j], vs[i]
	}
}

// peekRemote serves a RemoteLog-tagged peek through the log routers of
// each generation, newest first, stopping (without error, per S6) at the
// first generation with no router set.
func (ls *LogSystem) peekRemote(ctx context.Context, tag Tag, begin, end Version) (Cursor, error) {
	ls.mu.RLock()
	var currentRouterSet *LogSet
	for _, s := range ls.logSets {
		if len(s.LogRouters) > 0 {
			currentRouterSet = s
			break
		}
	}
	oldGenerations := ls.oldLogData
	ls.mu.RUnlock()

	if currentRouterSet == nil {
		return emptyCursor{}, nil
	}

	var subCursors []Cursor
	var boundaries []Version
	subCursors = append(subCursors, buildRouterCursor(ctx, currentRouterSet, tag, begin, end, ls.dialer))
	boundaries = append(boundaries, end)

	for _, gen := range oldGenerations {
		routerSet := gen.logRouterSet()
		if routerSet == nil {
			break
		}
		subCursors = append(subCursors, buildRouterCursor(ctx, routerSet, tag, gen.startVersion(), gen.EpochEnd, ls.dialer))
		boundaries = append(boundaries, gen.EpochEnd)
	}

	return NewMultiCursor(subCursors, boundaries), nil
}

func buildRouterCursor(ctx context.Context, set *LogSet, tag Tag, begin, end Version, dialer ClientDialer) Cursor {
	if set == nil || len(set.LogRouters) == 0 {
		return emptyCursor{}
	}
	cursors := make([]Cursor, 0, len(set.LogRouters))
	for _, h := range set.LogRouters {
		client := dialClientOrNil(dialer, h)
		cursors = append(cursors, NewServerPeekCursor(client, tag, begin, end))
	}
	if len(cursors) == 1 {
		return cursors[0]
	}
	return NewMergedPeekCursor(cursors)
}

// TagHistoryEntry is one (version, priorTag) pair in a rename history, as
// consumed by peekSingle.
type TagHistoryEntry struct {
	Version  Version
	PriorTag Tag
}

// peekSingle builds one peekAll-shaped cursor per tag across a rename
// history, discards entries older than begin, and joins what remains.
func (ls *LogSystem) peekSingle(ctx context.Context, begin Version, tag Tag, history []TagHistoryEntry) (Cursor, error) {
	filtered := make([]TagHistoryEntry, 0, len(history))
	for _, h := range history {
		if h.Version < begin {
			continue
		}
		filtered = append(filtered, h)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Version < filtered[j].Version })

	var subCursors []Cursor
	var boundaries []Version
	spanBegin := begin
	currentTag := tag

	for _, h := range filtered {
		c, err := ls.peekAll(ctx, currentTag, spanBegin, h.Version, false)
		if err != nil {
			return nil, err
		}
		subCursors = append(subCursors, c)
		boundaries = append(boundaries, h.Version)
		spanBegin = h.Version
		currentTag = h.PriorTag
	}

	c, err := ls.peekAll(ctx, currentTag, spanBegin, MaxVersion, true)
	if err != nil {
		return nil, err
	}
	subCursors = append(subCursors, c)

	if len(subCursors) == 1 {
		return subCursors[0], nil
	}
	return NewMultiCursor(subCursors, boundaries), nil
}

// peekLogRouter serves a peek from the perspective of one log router,
// identified by routerID: it searches the current epoch and every old
// generation for a matching router handle, then serves from the local
// side of that generation.
func (ls *LogSystem) peekLogRouter(ctx context.Context, routerID string, begin Version, tag Tag) (Cursor, error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	for _, s := range ls.logSets {
		for _, h := range s.LogRouters {
			if iface, ok := h.Get(); ok && iface.ID == routerID {
				local := findLocalMatch(localOf(ls.logSets), tag.Locality)
				return buildSetCursor(ctx, local, tag, begin, ls.getEnd(), ls.dialer), nil
			}
		}
	}
	for _, gen := range ls.oldLogData {
		for _, s := range gen.LogSets {
			for _, h := range s.LogRouters {
				if iface, ok := h.Get(); ok && iface.ID == routerID {
					local := findLocalMatch(gen.LogSets, tag.Locality)
					return buildSetCursor(ctx, local, tag, begin, gen.EpochEnd, ls.dialer), nil
				}
			}
		}
	}
	return emptyCursor{}, nil
}

func localOf(sets []*LogSet) []*LogSet {
	out := make([]*LogSet, 0, len(sets))
	for _, s := range sets {
		if s.IsLocal {
			out = append(out, s)
		}
	}
	return out
}

// startVersion returns the minimum StartVersion among a generation's sets,
// the version at which the generation as a whole begins accepting reads.
func (o *OldLogData) startVersion() Version {
	var v Version = MaxVersion
	for _, s := range o.LogSets {
		v = minVersion(v, s.StartVersion)
	}
	if v == MaxVersion {
		return 0
	}
	return v
}
