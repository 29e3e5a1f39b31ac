// Package session хранит курсор диалога пользователя отдельно от профиля.
// Хранилище живёт в памяти процесса: курсор по определению транзитный,
// переходы выполняются через compare-and-swap, чтобы два почти одновременных
// события одного пользователя не повредили состояние шага.
package session

import (
	"sync"
	"time"

	"github.com/mmeshcher/smmshop-system/internal/model"
)

// State описывает ожидаемый от пользователя шаг диалога.
type State int

const (
	// StateAwaitingAmount — «пополнить»: ожидается сумма.
	StateAwaitingAmount State = iota + 1
	// StateAwaitingProof — ожидается скриншот оплаты.
	StateAwaitingProof
	// StateAwaitingLink — «заказ»: ожидается ссылка.
	StateAwaitingLink
	// StateAwaitingQuantity — ожидается количество.
	StateAwaitingQuantity
	// StateAwaitingConfirmation — ожидается подтверждение или отмена.
	StateAwaitingConfirmation
)

// Session содержит частично собранные данные текущего диалога.
type Session struct {
	State        State
	Kind         model.ServiceKind
	Link         string
	Quantity     int
	CostCents    int64
	DepositCents int64
	StartedAt    time.Time
}

type versioned struct {
	session Session
	version uint64
}

// Store — потокобезопасное хранилище сессий с версионированием записей.
type Store struct {
	mu       sync.Mutex
	nextVer  uint64
	sessions map[int64]versioned
}

// NewStore создаёт пустое хранилище сессий.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]versioned)}
}

// Get возвращает копию сессии пользователя и её версию.
func (st *Store) Get(userID int64) (Session, uint64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	v, ok := st.sessions[userID]
	if !ok {
		return Session{}, 0, false
	}
	return v.session, v.version, true
}

// Put безусловно начинает новый диалог, вытесняя предыдущий.
func (st *Store) Put(userID int64, s Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.nextVer++
	st.sessions[userID] = versioned{session: s, version: st.nextVer}
}

// CompareAndSwap заменяет сессию, только если её версия не изменилась
// с момента чтения. Возвращает false, если переход выиграло другое событие.
func (st *Store) CompareAndSwap(userID int64, version uint64, s Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	v, ok := st.sessions[userID]
	if !ok || v.version != version {
		return false
	}

	st.nextVer++
	st.sessions[userID] = versioned{session: s, version: st.nextVer}
	return true
}

// Clear удаляет сессию, только если её версия не изменилась.
func (st *Store) Clear(userID int64, version uint64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	v, ok := st.sessions[userID]
	if !ok || v.version != version {
		return false
	}

	delete(st.sessions, userID)
	return true
}

// Drop безусловно удаляет сессию пользователя.
func (st *Store) Drop(userID int64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.sessions, userID)
}
