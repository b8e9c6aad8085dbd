package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"xiaole-web/internal/app/models"
	"xiaole-web/pkg/config"
	"xiaole-web/pkg/util"
)

const (
	sessionTitleRunes = 30
	// 占位消息没有直接关联用户消息时，向前最多扫描的条数
	maxReconcileScan = 32
)

// RevealTiming 非流式回复的"思考"停留时间与打字动画节奏
type RevealTiming struct {
	ThinkingBase    time.Duration
	ThinkingPerChar time.Duration
	ThinkingMax     time.Duration
	ThinkingCharCap int
	Steps           int
	Tick            time.Duration
}

func DefaultRevealTiming() RevealTiming {
	return RevealTiming{
		ThinkingBase:    350 * time.Millisecond,
		ThinkingPerChar: 4 * time.Millisecond,
		ThinkingMax:     2 * time.Second,
		ThinkingCharCap: 400,
		Steps:           60,
		Tick:            16 * time.Millisecond,
	}
}

func RevealTimingFrom(conf config.Chat) RevealTiming {
	t := DefaultRevealTiming()
	if conf.ThinkingBase > 0 {
		t.ThinkingBase = conf.ThinkingBase
	}
	if conf.ThinkingPerChar > 0 {
		t.ThinkingPerChar = conf.ThinkingPerChar
	}
	if conf.ThinkingMax > 0 {
		t.ThinkingMax = conf.ThinkingMax
	}
	if conf.ThinkingCharCap > 0 {
		t.ThinkingCharCap = conf.ThinkingCharCap
	}
	if conf.RevealSteps > 0 {
		t.Steps = conf.RevealSteps
	}
	if conf.RevealTick > 0 {
		t.Tick = conf.RevealTick
	}
	return t
}

// HoldTime min(max, base + perChar × min(n, cap))
func (t RevealTiming) HoldTime(replyLen int) time.Duration {
	n := replyLen
	if n > t.ThinkingCharCap {
		n = t.ThinkingCharCap
	}
	hold := t.ThinkingBase + time.Duration(n)*t.ThinkingPerChar
	if hold > t.ThinkingMax {
		hold = t.ThinkingMax
	}
	return hold
}

// StepSize 每个 tick 揭示的字符数，约 Steps 步完成
func (t RevealTiming) StepSize(replyLen int) int {
	steps := t.Steps
	if steps <= 0 {
		steps = 60
	}
	step := (replyLen + steps/2) / steps
	if step < 1 {
		step = 1
	}
	return step
}

// ConversationObserver 状态变化通知，均在锁外调用
type ConversationObserver struct {
	OnChange          func(models.Message)
	OnVoiceReply      func(text string)
	OnSessionAssigned func(models.Session)
	OnDelete          func(id models.ID)
}

// Conversation 当前会话的消息列表，只有它能修改列表；传输层通过 Turn 的回调上报数据
type Conversation struct {
	timing   RevealTiming
	observer ConversationObserver
	now      func() time.Time
	logger   *log.Entry

	// notifyMu 保证观察者按变更顺序收到通知；观察者内不能同步调用会修改状态的方法
	notifyMu sync.Mutex

	mu            sync.Mutex
	sessionID     models.ID
	title         string
	messages      []*models.Message
	gen           uint64 // Clear / Replace 后递增，旧的 Turn 随之失效
	typing        bool
	active        *Turn
	reveal        *revealTask
	cancelStream  context.CancelFunc
	tempSeq       int64
	lastPlaceID   int64
	pendingUser   *models.Message
	changedBuffer []models.Message
	removed       []models.ID
	assigned      *models.Session
}

func NewConversation(timing RevealTiming, observer ConversationObserver) *Conversation {
	return &Conversation{
		timing:   timing,
		observer: observer,
		now:      time.Now,
		logger:   log.WithField("component", "conversation"),
	}
}

// Turn 一轮对话，持有占位消息及其对应的用户消息
type Turn struct {
	conv        *Conversation
	gen         uint64
	placeholder *models.Message
	user        *models.Message
	prompt      string
	instant     bool
	accumulated strings.Builder
	ended       bool
	stopped     bool
}

// PlaceholderID 当前占位消息的 ID（服务端确认后会变化）
func (t *Turn) PlaceholderID() models.ID {
	t.conv.mu.Lock()
	defer t.conv.mu.Unlock()
	return t.placeholder.ID
}

// Stopped 是否被 Stop 中断
func (t *Turn) Stopped() bool {
	t.conv.mu.Lock()
	defer t.conv.mu.Unlock()
	return t.stopped
}

// Handlers 流式回复的回调，供 StreamReader 使用
func (t *Turn) Handlers() StreamHandlers {
	return StreamHandlers{
		// 连接建立但还没有内容时保持 thinking
		OnStart: func(models.StartEvent) {},
		OnDelta: func(text string) { t.conv.applyDelta(t, text) },
		OnEnd:   func(r models.TurnResult) { t.conv.finishStream(t, r) },
	}
}

// AddUserMessage 乐观插入用户消息，使用临时 ID
func (c *Conversation) AddUserMessage(content, imagePath string) models.Message {
	c.mu.Lock()
	c.tempSeq++
	msg := &models.Message{
		ID:        models.ID(fmt.Sprintf("%s%d", models.TempIDPrefix, c.tempSeq)),
		Role:      models.RoleUser,
		Content:   content,
		ImagePath: imagePath,
		Status:    models.StatusDone,
	}
	c.messages = append(c.messages, msg)
	c.pendingUser = msg
	c.markLocked(msg)
	snap := *msg
	c.mu.Unlock()

	c.flush()
	return snap
}

// AddThinkingPlaceholder 界面先行插入"思考中"占位，BeginTurn 会复用它
func (c *Conversation) AddThinkingPlaceholder() models.Message {
	c.mu.Lock()
	msg := c.newPlaceholderLocked(false)
	snap := *msg
	c.mu.Unlock()

	c.flush()
	return snap
}

func (c *Conversation) newPlaceholderLocked(instant bool) *models.Message {
	id := c.now().UnixMilli() + 1
	if id <= c.lastPlaceID {
		id = c.lastPlaceID + 1
	}
	c.lastPlaceID = id

	msg := &models.Message{
		ID:     models.ID(strconv.FormatInt(id, 10)),
		Role:   models.RoleAssistant,
		Status: models.StatusThinking,
	}
	if instant {
		msg.Status = models.StatusTyping
		msg.Content = "…"
	} else {
		started := c.now()
		msg.ThinkingStartedAt = &started
	}
	c.messages = append(c.messages, msg)
	c.markLocked(msg)
	return msg
}

// BeginTurn 开始一轮对话：复用列表末尾无人持有的 thinking 占位，否则新建
func (c *Conversation) BeginTurn(prompt string, instant bool) *Turn {
	c.mu.Lock()
	c.stopLocked()

	var ph *models.Message
	if last := c.reusablePlaceholderLocked(); last != nil {
		ph = last
		if instant {
			ph.Status = models.StatusTyping
			ph.Content = "…"
			c.markLocked(ph)
		}
	} else {
		ph = c.newPlaceholderLocked(instant)
	}

	turn := &Turn{
		conv:        c,
		gen:         c.gen,
		placeholder: ph,
		user:        c.pendingUser,
		prompt:      prompt,
		instant:     instant,
	}
	c.pendingUser = nil
	c.active = turn
	c.typing = true
	c.mu.Unlock()

	c.flush()
	c.logger.WithField("placeholder", turn.placeholder.ID).Debug("turn started")
	return turn
}

// reusablePlaceholderLocked 末尾的 thinking 助手消息，且不属于仍在进行的轮次
func (c *Conversation) reusablePlaceholderLocked() *models.Message {
	if len(c.messages) == 0 {
		return nil
	}
	last := c.messages[len(c.messages)-1]
	if last.Role != models.RoleAssistant || last.Status != models.StatusThinking {
		return nil
	}
	if c.active != nil && c.active.placeholder == last {
		return nil
	}
	return last
}

// AttachCancel 登记本轮请求的取消函数，Stop 时调用
func (c *Conversation) AttachCancel(t *Turn, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveLocked(t) && c.active == t {
		c.cancelStream = cancel
	}
}

// CompleteBuffered 非流式回复到达：语音模式直接完成，否则停留后播放打字动画
func (c *Conversation) CompleteBuffered(t *Turn, result models.TurnResult) {
	c.mu.Lock()
	if !c.liveLocked(t) || t.ended || t.stopped {
		c.mu.Unlock()
		return
	}
	c.reconcileLocked(t, result)

	ph := t.placeholder
	full := result.Reply
	ph.FullContent = full
	if len(result.SearchResults) > 0 {
		ph.SearchResults = result.SearchResults
	}

	var voice bool
	if t.instant {
		ph.Content = full
		ph.Status = models.StatusDone
		ph.ThinkingStartedAt = nil
		t.ended = true
		c.finishTurnLocked(t)
		voice = true
	} else {
		started := c.now()
		if ph.ThinkingStartedAt != nil {
			started = *ph.ThinkingStartedAt
		}
		runes := []rune(full)
		remaining := c.timing.HoldTime(len(runes)) - c.now().Sub(started)
		if remaining < 0 {
			remaining = 0
		}
		task := &revealTask{
			turn:  t,
			runes: runes,
			step:  c.timing.StepSize(len(runes)),
			stop:  make(chan struct{}),
		}
		c.reveal = task
		task.hold = time.AfterFunc(remaining, func() { c.startReveal(task) })
	}
	c.markLocked(ph)
	c.mu.Unlock()

	c.flush()
	if voice && c.observer.OnVoiceReply != nil {
		c.observer.OnVoiceReply(full)
	}
}

// revealTask 一次打字动画，由 Conversation 持有，Stop 时取消
type revealTask struct {
	turn  *Turn
	runes []rune
	step  int
	pos   int
	hold  *time.Timer
	stop  chan struct{}
	once  sync.Once
}

func (r *revealTask) cancel() {
	r.once.Do(func() {
		if r.hold != nil {
			r.hold.Stop()
		}
		close(r.stop)
	})
}

func (c *Conversation) startReveal(task *revealTask) {
	c.mu.Lock()
	if c.reveal != task {
		c.mu.Unlock()
		return
	}
	ph := task.turn.placeholder
	ph.Status = models.StatusTyping
	ph.Content = ""
	c.markLocked(ph)
	c.mu.Unlock()
	c.flush()

	go func() {
		ticker := time.NewTicker(c.timing.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-task.stop:
				return
			case <-ticker.C:
				if c.revealTick(task) {
					return
				}
			}
		}
	}()
}

// revealTick 返回 true 表示动画结束或已被取消
func (c *Conversation) revealTick(task *revealTask) bool {
	c.mu.Lock()
	if c.reveal != task {
		c.mu.Unlock()
		return true
	}

	ph := task.turn.placeholder
	done := task.pos >= len(task.runes)
	if done {
		ph.Content = string(task.runes)
		ph.Status = models.StatusDone
		ph.ThinkingStartedAt = nil
		task.turn.ended = true
		c.reveal = nil
		c.finishTurnLocked(task.turn)
	} else {
		ph.Content = string(task.runes[:task.pos])
		task.pos += task.step
	}
	c.markLocked(ph)
	c.mu.Unlock()

	c.flush()
	return done
}

func (c *Conversation) applyDelta(t *Turn, text string) {
	c.mu.Lock()
	if !c.liveLocked(t) || t.ended {
		c.mu.Unlock()
		return
	}
	t.accumulated.WriteString(text)
	acc := t.accumulated.String()

	ph := t.placeholder
	if ph.Status == models.StatusThinking && strings.TrimSpace(acc) != "" {
		ph.Status = models.StatusTyping
	}
	ph.Content = acc
	c.markLocked(ph)
	c.mu.Unlock()

	c.flush()
}

func (c *Conversation) finishStream(t *Turn, result models.TurnResult) {
	c.mu.Lock()
	if !c.liveLocked(t) || t.ended {
		c.mu.Unlock()
		return
	}
	c.reconcileLocked(t, result)

	ph := t.placeholder
	ph.FullContent = t.accumulated.String()
	ph.Content = ph.FullContent
	ph.Status = models.StatusDone
	ph.ThinkingStartedAt = nil
	if len(result.SearchResults) > 0 {
		ph.SearchResults = result.SearchResults
	}
	t.ended = true
	c.finishTurnLocked(t)
	c.markLocked(ph)
	voice := t.instant
	full := ph.FullContent
	c.mu.Unlock()

	c.flush()
	if voice && c.observer.OnVoiceReply != nil {
		c.observer.OnVoiceReply(full)
	}
}

// Settle 流结束但没有收到 end 事件（或被用户中断）时收尾，保证不留下 thinking/typing
func (c *Conversation) Settle(t *Turn) error {
	c.mu.Lock()
	if !c.liveLocked(t) || t.ended {
		c.mu.Unlock()
		return nil
	}
	acc := t.accumulated.String()
	if strings.TrimSpace(acc) == "" && !t.stopped {
		c.mu.Unlock()
		return ErrEmptyReply
	}

	ph := t.placeholder
	ph.FullContent = acc
	ph.Content = acc
	ph.Status = models.StatusDone
	ph.ThinkingStartedAt = nil
	t.ended = true
	c.finishTurnLocked(t)
	c.markLocked(ph)
	c.mu.Unlock()

	c.flush()
	return nil
}

// Fail 本轮失败：占位消息以错误文本结束
func (c *Conversation) Fail(t *Turn, err error) {
	c.mu.Lock()
	if !c.liveLocked(t) || t.ended {
		c.mu.Unlock()
		return
	}
	if c.reveal != nil && c.reveal.turn == t {
		c.reveal.cancel()
		c.reveal = nil
	}

	ph := t.placeholder
	ph.Status = models.StatusDone
	ph.Content = models.FormatTurnError(err)
	ph.ThinkingStartedAt = nil
	t.ended = true
	c.finishTurnLocked(t)
	c.markLocked(ph)
	c.mu.Unlock()

	c.flush()
}

// Stop 停止生成：打字动画立即显示全文，流式请求被取消
func (c *Conversation) Stop() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
	c.flush()
}

func (c *Conversation) stopLocked() {
	if task := c.reveal; task != nil {
		task.cancel()
		c.reveal = nil
		ph := task.turn.placeholder
		ph.Content = ph.FullContent
		ph.Status = models.StatusDone
		ph.ThinkingStartedAt = nil
		task.turn.ended = true
		task.turn.stopped = true
		c.markLocked(ph)
	}
	if c.cancelStream != nil {
		if c.active != nil {
			c.active.stopped = true
		}
		c.cancelStream()
		c.cancelStream = nil
	}
	c.typing = false
}

func (c *Conversation) finishTurnLocked(t *Turn) {
	if c.active != t && c.active != nil {
		return
	}
	c.active = nil
	c.cancelStream = nil
	c.typing = false
}

func (c *Conversation) liveLocked(t *Turn) bool {
	return t != nil && t.gen == c.gen
}

// reconcileLocked 用服务端 ID 替换占位与用户消息的临时 ID，并记录会话 ID
func (c *Conversation) reconcileLocked(t *Turn, result models.TurnResult) {
	ph := t.placeholder
	if result.AssistantMessageID != "" {
		ph.ID = result.AssistantMessageID
	}

	if result.UserMessageID != "" {
		user := t.user
		if user == nil || !user.ID.IsTemporary() || !c.containsLocked(user) {
			user = c.scanTempUserLocked(ph)
		}
		if user != nil {
			c.logger.WithFields(log.Fields{"from": user.ID, "to": result.UserMessageID}).Debug("sync user message id")
			user.ID = result.UserMessageID
			// 服务端路径替换本地 blob 引用
			if result.ImagePath != "" {
				user.ImagePath = result.ImagePath
			}
			c.markLocked(user)
		}
	}

	if result.SessionID != "" {
		isNew := c.sessionID == ""
		c.sessionID = result.SessionID
		if isNew {
			c.title = util.TruncateRunes(t.prompt, sessionTitleRunes, "...")
			c.assigned = &models.Session{ID: c.sessionID, Title: c.title}
		}
	}
}

func (c *Conversation) containsLocked(m *models.Message) bool {
	for _, msg := range c.messages {
		if msg == m {
			return true
		}
	}
	return false
}

// scanTempUserLocked 从占位消息向前找最近的临时 ID 用户消息
func (c *Conversation) scanTempUserLocked(ph *models.Message) *models.Message {
	idx := -1
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i] == ph {
			idx = i
			break
		}
	}
	for i, scanned := idx-1, 0; i >= 0 && scanned < maxReconcileScan; i, scanned = i-1, scanned+1 {
		msg := c.messages[i]
		if msg.Role == models.RoleUser && msg.ID.IsTemporary() {
			return msg
		}
	}
	return nil
}

// markLocked 记录变更，解锁后由 flush 通知观察者
func (c *Conversation) markLocked(m *models.Message) {
	if c.observer.OnChange != nil {
		c.changedBuffer = append(c.changedBuffer, *m)
	}
}

func (c *Conversation) flush() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	changed := c.changedBuffer
	c.changedBuffer = nil
	assigned := c.assigned
	c.assigned = nil
	removed := c.removed
	c.removed = nil
	c.mu.Unlock()

	if c.observer.OnChange != nil {
		for _, m := range changed {
			c.observer.OnChange(m)
		}
	}
	if assigned != nil && c.observer.OnSessionAssigned != nil {
		c.observer.OnSessionAssigned(*assigned)
	}
	for _, id := range removed {
		c.observer.OnDelete(id)
	}
}

// Replace 用服务端历史替换当前列表，所有消息视为 done
func (c *Conversation) Replace(sessionID models.ID, title string, history []models.Message) {
	c.mu.Lock()
	c.stopLocked()
	c.gen++
	c.sessionID = sessionID
	c.title = title
	c.messages = make([]*models.Message, 0, len(history))
	for i := range history {
		msg := history[i]
		msg.Status = models.StatusDone
		msg.ImagePath = normalizeImagePath(msg.ImagePath)
		c.messages = append(c.messages, &msg)
	}
	c.active = nil
	c.pendingUser = nil
	c.mu.Unlock()
	c.flush()
}

// Clear 开始新会话
func (c *Conversation) Clear() {
	c.Replace("", "", nil)
}

// Delete 从列表中移除一条消息，通过 OnDelete 通知观察者
func (c *Conversation) Delete(id models.ID) bool {
	c.mu.Lock()
	found := false
	for i, msg := range c.messages {
		if msg.ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			if c.pendingUser == msg {
				c.pendingUser = nil
			}
			if c.observer.OnDelete != nil {
				c.removed = append(c.removed, id)
			}
			found = true
			break
		}
	}
	c.mu.Unlock()

	if found {
		c.flush()
	}
	return found
}

// Messages 当前列表的快照
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	for i, msg := range c.messages {
		out[i] = *msg
	}
	return out
}

// Session 当前会话信息（含消息快照）
func (c *Conversation) Session() models.Session {
	msgs := c.Messages()
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.Session{ID: c.sessionID, Title: c.title, Messages: msgs}
}

func (c *Conversation) SessionID() models.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// IsTyping 是否有正在进行的回复
func (c *Conversation) IsTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// normalizeImagePath 相对路径补齐前导 /
func normalizeImagePath(p string) string {
	if p == "" {
		return p
	}
	for _, prefix := range []string{"http", "data:", "blob:", "/"} {
		if strings.HasPrefix(p, prefix) {
			return p
		}
	}
	return "/" + p
}
