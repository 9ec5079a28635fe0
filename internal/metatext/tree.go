package metatext

// SessionTree is the structured session metadata parsed from a
// simulator's non-standard YAML text blob. All non-root leaves are
// optional: a simulator may omit any of them depending on session state.
type SessionTree struct {
	WeekendInfo        WeekendInfo          `yaml:"WeekendInfo"`
	SessionInfo        SessionInfoData      `yaml:"SessionInfo"`
	RadioInfo          *RadioInfo           `yaml:"RadioInfo,omitempty"`
	DriverInfo         *DriverInfoData      `yaml:"DriverInfo,omitempty"`
	SplitTimeInfo      *SplitTimeInfo       `yaml:"SplitTimeInfo,omitempty"`
	CameraInfo         *CameraInfo          `yaml:"CameraInfo,omitempty"`
	QualifyResultsInfo *QualifyResultsInfo  `yaml:"QualifyResultsInfo,omitempty"`

	// Unknown holds keys not recognized by any typed field, recorded only
	// when the parser was constructed with discovery mode enabled.
	Unknown map[string]any `yaml:"-"`
}

// WeekendInfo describes the track and weekend-level session setup.
type WeekendInfo struct {
	TrackName            string `yaml:"TrackName"`
	TrackID              *int32 `yaml:"TrackID,omitempty"`
	TrackLength          string `yaml:"TrackLength,omitempty"`
	TrackDisplayName     string `yaml:"TrackDisplayName"`
	TrackDisplayShortName string `yaml:"TrackDisplayShortName,omitempty"`
	TrackConfigName      string `yaml:"TrackConfigName,omitempty"`
	TrackCity            string `yaml:"TrackCity,omitempty"`
	TrackCountry         string `yaml:"TrackCountry,omitempty"`
	EventType            string `yaml:"EventType,omitempty"`
	Category             string `yaml:"Category,omitempty"`
	SimMode              string `yaml:"SimMode,omitempty"`
}

// SessionInfoData is the current session index plus the session list.
type SessionInfoData struct {
	CurrentSessionNum int       `yaml:"CurrentSessionNum"`
	Sessions          []Session `yaml:"Sessions"`
}

// Session describes a single race-weekend session (practice, qualifying,
// race, ...).
type Session struct {
	SessionNum  int    `yaml:"SessionNum"`
	SessionLaps string `yaml:"SessionLaps,omitempty"`
	SessionTime string `yaml:"SessionTime,omitempty"`
	SessionType string `yaml:"SessionType,omitempty"`
	SessionName string `yaml:"SessionName,omitempty"`
}

// RadioInfo lists the configured in-car radios and their frequencies.
type RadioInfo struct {
	SelectedRadioNum int     `yaml:"SelectedRadioNum"`
	Radios           []Radio `yaml:"Radios"`
}

// Radio is one configured radio and its frequency list.
type Radio struct {
	RadioNum        int         `yaml:"RadioNum"`
	Frequencies     []Frequency `yaml:"Frequencies"`
}

// Frequency is one radio channel.
type Frequency struct {
	FrequencyNum int    `yaml:"FrequencyNum"`
	FrequencyName string `yaml:"FrequencyName,omitempty"`
}

// DriverInfoData describes the local driver and the full entry list.
type DriverInfoData struct {
	DriverCarIdx int      `yaml:"DriverCarIdx"`
	Drivers      []Driver `yaml:"Drivers"`
}

// Driver is one car's entry in the session.
type Driver struct {
	CarIdx      int    `yaml:"CarIdx"`
	UserName    string `yaml:"UserName,omitempty"`
	AbbrevName  string `yaml:"AbbrevName,omitempty"`
	Initials    string `yaml:"Initials,omitempty"`
	TeamName    string `yaml:"TeamName,omitempty"`
	CarNumber   string `yaml:"CarNumber,omitempty"`
	IRacingID   *int32 `yaml:"UserID,omitempty"`
}

// SplitTimeInfo carries per-sector timing splits.
type SplitTimeInfo struct {
	Sectors []Sector `yaml:"Sectors"`
}

// Sector is one timing sector boundary, expressed as a fraction of lap
// distance.
type Sector struct {
	SectorNum        int     `yaml:"SectorNum"`
	SectorStartPct   float64 `yaml:"SectorStartPct"`
}

// CameraInfo lists the camera groups available to the session.
type CameraInfo struct {
	Groups []CameraGroup `yaml:"Groups"`
}

// CameraGroup is one named group of cameras.
type CameraGroup struct {
	GroupNum int      `yaml:"GroupNum"`
	GroupName string  `yaml:"GroupName,omitempty"`
	Cameras  []Camera `yaml:"Cameras"`
}

// Camera is one selectable camera within a group.
type Camera struct {
	CameraNum  int    `yaml:"CameraNum"`
	CameraName string `yaml:"CameraName,omitempty"`
}

// QualifyResultsInfo lists qualifying results per session.
type QualifyResultsInfo struct {
	Results []QualifyResult `yaml:"Results"`
}

// QualifyResult is one car's qualifying result.
type QualifyResult struct {
	Position    int     `yaml:"Position"`
	ClassPosition int   `yaml:"ClassPosition"`
	CarIdx      int     `yaml:"CarIdx"`
	FastestLap  int     `yaml:"FastestLap"`
	FastestTime float64 `yaml:"FastestTime"`
}
