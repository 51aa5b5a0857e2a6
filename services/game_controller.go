package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/qianlnk/werewolf-channels/models"
)

// PhaseTimeouts 阶段超时，0 表示不限时
type PhaseTimeouts struct {
	Day   time.Duration
	Night time.Duration
}

// GameController 单局游戏的唯一写入点，所有修改在 mutex 内完成
type GameController struct {
	game        *GameState
	sm          *StateMachine
	resolver    *ActionResolver
	assigner    *RoleAssigner
	bots        *BotPlayer
	poolFor     func(players int) []models.Role
	broadcaster Broadcaster
	history     HistoryStore
	metrics     *Metrics
	logger      *slog.Logger
	timeouts    PhaseTimeouts
	onFinish    func(sessionID string)

	timer   *time.Timer
	void    bool
	pending []models.HistoryRecord
	outcome *models.Outcome
	mutex   sync.Mutex
}

func newGameController(game *GameState, opts GameOptions, onFinish func(string)) *GameController {
	sm := NewStateMachine(game, opts.Now)
	rng := opts.rng()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GameController{
		game:        game,
		sm:          sm,
		resolver:    NewActionResolver(game, sm),
		assigner:    NewRoleAssigner(rng),
		bots:        NewBotPlayer(rng),
		poolFor:     opts.poolFor(),
		broadcaster: opts.Broadcaster,
		history:     opts.History,
		metrics:     opts.Metrics,
		logger:      logger.With("component", "game", "session", game.SessionID),
		timeouts:    opts.Timeouts,
		onFinish:    onFinish,
	}
}

// SessionID 会话 ID
func (gc *GameController) SessionID() string {
	return gc.game.SessionID
}

// ChannelID 所属频道
func (gc *GameController) ChannelID() string {
	return gc.game.ChannelID
}

// Start 分配角色并进入第一天白天
func (gc *GameController) Start(ctx context.Context) error {
	gc.mutex.Lock()
	defer gc.unlockAndFlush(ctx)

	if gc.game.Phase.Phase != models.PhasePre || gc.void {
		return ErrStalePhase
	}
	pool := gc.poolFor(len(gc.game.Participants))
	if err := gc.assigner.Assign(gc.game.Participants, pool); err != nil {
		gc.voidLocked(err)
		return err
	}
	if err := gc.sm.Begin(); err != nil {
		return err
	}
	gc.metrics.sessionStarted()
	gc.metrics.transition(string(models.PhaseDay))
	gc.logger.Info("game started", "players", len(gc.game.Participants))

	// 每名玩家单独收到自己的角色
	for _, p := range gc.game.Participants {
		if p.IsBot {
			continue
		}
		gc.sendPrivateState(p.ID)
	}
	gc.broadcastState(nil)
	gc.schedule()
	gc.driveLocked()
	return nil
}

// voidLocked 角色分配失败时作废会话
func (gc *GameController) voidLocked(err error) {
	gc.void = true
	gc.logger.Error("session void", "error", err)
	notice := models.SessionVoid{
		SessionID: gc.game.SessionID,
		ChannelID: gc.game.ChannelID,
		Reason:    ErrorCode(err),
	}
	for _, p := range gc.game.Participants {
		if p.IsBot {
			continue
		}
		gc.broadcaster.SendToUser(p.ID, models.Envelope{Type: models.EventSessionVoid, Payload: notice})
	}
	gc.outcome = &models.Outcome{
		SessionID:  gc.game.SessionID,
		ChannelID:  gc.game.ChannelID,
		Void:       true,
		FinishedAt: gc.sm.now(),
	}
}

// Submit 提交动作，所有应行动玩家提交后立即结算
func (gc *GameController) Submit(ctx context.Context, action models.Action) error {
	gc.mutex.Lock()
	defer gc.unlockAndFlush(ctx)

	replaced, err := gc.resolver.Submit(action)
	gc.metrics.action(action.Kind, err)
	if err != nil {
		gc.logger.Debug("action rejected", "actor", action.ActorID, "kind", action.Kind, "error", err)
		return err
	}
	gc.logger.Debug("action recorded", "actor", action.ActorID, "kind", action.Kind, "replaced", replaced)

	gc.driveLocked()
	return nil
}

// ClosePhase 结算指定阶段，阶段已变化时返回 ErrStalePhase
func (gc *GameController) ClosePhase(ctx context.Context, phase models.Phase, day int) error {
	gc.mutex.Lock()
	defer gc.unlockAndFlush(ctx)

	if err := gc.sm.CheckStale(phase, day); err != nil {
		return err
	}
	if gc.resolveLocked() {
		return nil
	}
	gc.driveLocked()
	return nil
}

// driveLocked 让机器人行动，法定人数满足时结算并进入下一阶段
func (gc *GameController) driveLocked() {
	for {
		gc.actBots()
		if !gc.sm.QuorumReached() {
			return
		}
		if gc.resolveLocked() {
			return
		}
	}
}

func (gc *GameController) actBots() {
	for _, p := range gc.game.Participants {
		if !p.IsBot || !p.Alive() {
			continue
		}
		for _, kind := range gc.sm.RequiredActions(p) {
			if gc.game.HasAction(kind, p.ID) {
				continue
			}
			target, ok := gc.bots.Decide(gc.game, p, kind, gc.resolver.ValidTargets(p, kind))
			if !ok {
				continue
			}
			_, err := gc.resolver.Submit(models.Action{
				Day:      gc.game.Phase.Day,
				Phase:    gc.game.Phase.Phase,
				ActorID:  p.ID,
				TargetID: target,
				Kind:     kind,
			})
			if err != nil {
				gc.logger.Warn("bot action rejected", "bot", p.ID, "kind", kind, "error", err)
			}
		}
	}
}

// resolveLocked 结算当前阶段，游戏结束时返回 true
func (gc *GameController) resolveLocked() bool {
	var res Resolution
	switch gc.game.Phase.Phase {
	case models.PhaseDay:
		res = gc.resolver.ResolveDay()
	case models.PhaseNight:
		res = gc.resolver.ResolveNight()
	default:
		return true
	}
	gc.pending = append(gc.pending, res.Records...)

	for actor, rev := range res.Revelations {
		if p, ok := gc.game.Player(actor); ok && p.IsBot {
			continue
		}
		gc.broadcaster.SendToUser(actor, models.Envelope{
			Type:    models.EventPrivateResult,
			Topic:   SessionTopic(gc.game.SessionID),
			Payload: models.PrivateResult{SessionID: gc.game.SessionID, Revelation: rev},
		})
	}

	winner, over := gc.sm.Winner()
	gc.publish(models.Envelope{
		Type: models.EventPhaseResult,
		Payload: models.PhaseResult{
			SessionID: gc.game.SessionID,
			Phase:     res.Phase,
			Record:    res.Record.ViewFor(models.RoleNone, false),
			Winner:    winner,
		},
	})
	gc.logger.Info("phase resolved", "phase", res.Phase, "day", gc.game.Phase.Day, "deaths", res.Deaths)

	if over {
		gc.finishLocked(winner)
		return true
	}
	if err := gc.sm.Advance(); err != nil {
		gc.logger.Error("advance phase", "error", err)
		return true
	}
	gc.metrics.transition(string(gc.game.Phase.Phase))
	gc.broadcastState(res.Deaths)
	gc.schedule()
	return false
}

func (gc *GameController) finishLocked(winner models.Team) {
	if err := gc.sm.Finish(winner); err != nil {
		gc.logger.Error("finish game", "error", err)
		return
	}
	gc.stopTimer()
	gc.metrics.transition(string(models.PhaseFinished))
	gc.metrics.sessionEnded()

	// 结束后公开全部角色
	all := make([]string, 0, len(gc.game.Participants))
	for _, p := range gc.game.Participants {
		all = append(all, p.ID)
	}
	gc.broadcastState(all)

	gc.outcome = &models.Outcome{
		SessionID:  gc.game.SessionID,
		ChannelID:  gc.game.ChannelID,
		Winner:     winner,
		Day:        gc.game.Phase.Day,
		Roles:      gc.game.Roles(),
		FinishedAt: gc.game.Phase.ChangedAt,
	}
	gc.logger.Info("game finished", "winner", winner, "day", gc.game.Phase.Day)
}

// broadcastState 下发阶段和变化的玩家，阶段总是整体替换
func (gc *GameController) broadcastState(changed []string) {
	phase := gc.game.Phase
	update := &models.StateUpdate{Phase: &phase}
	for _, id := range changed {
		if p, ok := gc.game.Player(id); ok {
			update.Participants = append(update.Participants, gc.game.ViewOf(p, ""))
		}
	}
	gc.publish(models.Envelope{Type: string(models.DeltaStateUpdate), Payload: update})
}

// sendPrivateState 向玩家单独下发自己和同伴的角色
func (gc *GameController) sendPrivateState(userID string) {
	p, ok := gc.game.Player(userID)
	if !ok {
		return
	}
	update := &models.StateUpdate{Participants: []models.Participant{gc.game.ViewOf(p, userID)}}
	if partner, ok := gc.game.Player(p.PartnerID); ok {
		update.Participants = append(update.Participants, gc.game.ViewOf(partner, userID))
	}
	gc.broadcaster.SendToUser(userID, models.Envelope{
		Type:    string(models.DeltaStateUpdate),
		Topic:   SessionTopic(gc.game.SessionID),
		Payload: update,
	})
}

func (gc *GameController) publish(env models.Envelope) {
	env.Topic = SessionTopic(gc.game.SessionID)
	gc.broadcaster.Publish(env.Topic, env)
}

// schedule 为当前阶段设置超时，超时通过 ClosePhase 结算，过期的定时器不会生效
func (gc *GameController) schedule() {
	gc.stopTimer()
	d := gc.timeouts.Day
	if gc.game.Phase.Phase == models.PhaseNight {
		d = gc.timeouts.Night
	}
	if d <= 0 {
		return
	}
	phase, day := gc.game.Phase.Phase, gc.game.Phase.Day
	gc.timer = time.AfterFunc(d, func() {
		err := gc.ClosePhase(context.Background(), phase, day)
		if err != nil && !errors.Is(err, ErrStalePhase) {
			gc.logger.Error("phase timeout", "phase", phase, "day", day, "error", err)
		}
	})
}

func (gc *GameController) stopTimer() {
	if gc.timer != nil {
		gc.timer.Stop()
		gc.timer = nil
	}
}

// Stop 停止阶段定时器
func (gc *GameController) Stop() {
	gc.mutex.Lock()
	defer gc.mutex.Unlock()
	gc.stopTimer()
}

// Attach 在会话锁内把 viewer 的快照交给 deliver，保证快照与后续增量有序
func (gc *GameController) Attach(viewer string, deliver func(models.Snapshot)) error {
	gc.mutex.Lock()
	defer gc.mutex.Unlock()
	if gc.void {
		return ErrNotFound
	}
	deliver(gc.game.Snapshot(viewer))
	return nil
}

// Snapshot 返回 viewer 可见的状态
func (gc *GameController) Snapshot(viewer string) models.Snapshot {
	gc.mutex.Lock()
	defer gc.mutex.Unlock()
	return gc.game.Snapshot(viewer)
}

// Info 会话概要
func (gc *GameController) Info() models.SessionInfo {
	gc.mutex.Lock()
	defer gc.mutex.Unlock()
	return models.SessionInfo{
		SessionID: gc.game.SessionID,
		ChannelID: gc.game.ChannelID,
		Phase:     gc.game.Phase,
		Players:   len(gc.game.Participants),
	}
}

// unlockAndFlush 释放锁后写入持久化记录
func (gc *GameController) unlockAndFlush(ctx context.Context) {
	records, outcome := gc.pending, gc.outcome
	gc.pending, gc.outcome = nil, nil
	finished := outcome != nil
	gc.mutex.Unlock()

	if gc.history != nil {
		for _, r := range records {
			if err := gc.history.Append(ctx, r); err != nil {
				gc.logger.Error("append history", "kind", r.Kind, "day", r.Day, "error", err)
			}
		}
		if outcome != nil {
			if err := gc.history.SaveOutcome(ctx, *outcome); err != nil {
				gc.logger.Error("save outcome", "error", err)
			}
		}
	}
	if finished && gc.onFinish != nil {
		gc.onFinish(gc.game.SessionID)
	}
}
