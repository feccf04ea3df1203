package nakama

const (
	// MatchName is the authoritative match handler name registered with Nakama.
	MatchName = "cardtable"

	// RpcListGames returns the hosted game catalog.
	RpcListGames = "list_games"
	// RpcCreateMatch opens a match for the game named in the payload.
	RpcCreateMatch = "create_match"

	// envGamesDir and envLuaDir are read from the runtime environment.
	envGamesDir = "cardtable_games_dir"
	envLuaDir   = "cardtable_lua_dir"
)

// Op codes for client messages and server events.
const (
	// Client -> Server
	OpStartGame    int64 = 1
	OpAction       int64 = 2
	OpRequestState int64 = 3

	// Server -> Client events
	OpGameState          int64 = 101 // sent per presence, masked
	OpError              int64 = 102 // sent privately
	OpPlayerConnected    int64 = 103
	OpPlayerDisconnected int64 = 104
)

const (
	defaultTickRate = 5
	// reactionSeconds is how long a reaction window stays open with no new reaction.
	reactionSeconds = 3
)
