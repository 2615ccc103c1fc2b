package normalize

// Provider names a payload source.
type Provider string

const (
	ProviderLive       Provider = "live"
	ProviderHistorical Provider = "historical"
)

// Field is a logical canonical field resolved from a provider payload.
type Field string

const (
	FieldMatchID           Field = "match_id"
	FieldSeriesID          Field = "series_id"
	FieldSeriesType        Field = "series_type"
	FieldLeagueID          Field = "league_id"
	FieldLeagueName        Field = "league_name"
	FieldStartTime         Field = "start_time"
	FieldDuration          Field = "duration"
	FieldRadiantTeamID     Field = "radiant_team_id"
	FieldRadiantTeamName   Field = "radiant_team_name"
	FieldDireTeamID        Field = "dire_team_id"
	FieldDireTeamName      Field = "dire_team_name"
	FieldRadiantScore      Field = "radiant_score"
	FieldDireScore         Field = "dire_score"
	FieldRadiantWin        Field = "radiant_win"
	FieldWinner            Field = "winner"
	FieldState             Field = "state"
	FieldGameNumber        Field = "game_number"
	FieldRadiantSeriesWins Field = "radiant_series_wins"
	FieldDireSeriesWins    Field = "dire_series_wins"
	FieldRadiantPlayers    Field = "radiant_players"
	FieldDirePlayers       Field = "dire_players"
	FieldPlayers           Field = "players"
)

// Table lists, per logical field, the dotted payload paths to try in
// order. The first path holding a non-null value wins.
type Table map[Field][]string

// LiveTable maps the real-time league games feed.
var LiveTable = Table{
	FieldMatchID:           {"match_id", "matchid"},
	FieldSeriesID:          {"series_id"},
	FieldSeriesType:        {"series_type"},
	FieldLeagueID:          {"league_id", "leagueid"},
	FieldLeagueName:        {"league_name", "league.name"},
	FieldStartTime:         {"start_time", "activate_time"},
	FieldDuration:          {"scoreboard.duration", "duration", "duration_seconds"},
	FieldRadiantTeamID:     {"radiant_team.team_id", "team_id_radiant", "radiant_team_id", "radiant_id"},
	FieldRadiantTeamName:   {"radiant_team.team_name", "radiant_team.name", "team_name_radiant", "radiant_team_name", "radiant_name"},
	FieldDireTeamID:        {"dire_team.team_id", "team_id_dire", "dire_team_id", "dire_id"},
	FieldDireTeamName:      {"dire_team.team_name", "dire_team.name", "team_name_dire", "dire_team_name", "dire_name"},
	FieldRadiantScore:      {"scoreboard.radiant.score", "radiant_score"},
	FieldDireScore:         {"scoreboard.dire.score", "dire_score"},
	FieldRadiantWin:        {"radiant_win"},
	FieldWinner:            {"winner"},
	FieldState:             {"state", "status"},
	FieldGameNumber:        {"game_number"},
	FieldRadiantSeriesWins: {"radiant_series_wins"},
	FieldDireSeriesWins:    {"dire_series_wins"},
	FieldRadiantPlayers:    {"scoreboard.radiant.players"},
	FieldDirePlayers:       {"scoreboard.dire.players"},
	FieldPlayers:           {"players"},
}

// HistoricalTable maps finalized match documents from the stats provider.
var HistoricalTable = Table{
	FieldMatchID:           {"match_id"},
	FieldSeriesID:          {"series_id"},
	FieldSeriesType:        {"series_type"},
	FieldLeagueID:          {"leagueid", "league_id", "league.leagueid"},
	FieldLeagueName:        {"league.name", "league_name"},
	FieldStartTime:         {"start_time"},
	FieldDuration:          {"duration", "duration_seconds"},
	FieldRadiantTeamID:     {"radiant_team.team_id", "radiant_team_id", "team_id_radiant", "radiant_id"},
	FieldRadiantTeamName:   {"radiant_team.name", "radiant_team.team_name", "radiant_name", "radiant_team_name"},
	FieldDireTeamID:        {"dire_team.team_id", "dire_team_id", "team_id_dire", "dire_id"},
	FieldDireTeamName:      {"dire_team.name", "dire_team.team_name", "dire_name", "dire_team_name"},
	FieldRadiantScore:      {"radiant_score"},
	FieldDireScore:         {"dire_score"},
	FieldRadiantWin:        {"radiant_win"},
	FieldWinner:            {"winner"},
	FieldState:             {"state"},
	FieldGameNumber:        {"game_number"},
	FieldRadiantSeriesWins: {"radiant_series_wins"},
	FieldDireSeriesWins:    {"dire_series_wins"},
	FieldPlayers:           {"players"},
}

// TableFor returns the precedence table registered for a provider.
func TableFor(p Provider) (Table, bool) {
	switch p {
	case ProviderLive:
		return LiveTable, true
	case ProviderHistorical:
		return HistoricalTable, true
	default:
		return nil, false
	}
}

// Resolve returns the first non-null value along the field's paths and
// the path it came from.
func (t Table) Resolve(raw map[string]any, f Field) (any, string, bool) {
	return t.resolveWhere(raw, f, nil)
}

// resolveWhere is Resolve with an extra acceptance test; rejected values
// fall through to the next path.
func (t Table) resolveWhere(raw map[string]any, f Field, accept func(any) bool) (any, string, bool) {
	for _, path := range t[f] {
		v, ok := lookup(raw, path)
		if !ok {
			continue
		}
		if accept != nil && !accept(v) {
			continue
		}
		return v, path, true
	}
	return nil, "", false
}
