package archive

// Level identifies the hierarchy level of an archive resource.
type Level string

const (
	LevelPatient Level = "Patient"
	LevelStudy   Level = "Study"
	LevelSeries  Level = "Series"
)

// Resource identifies one archive resource by level and archive ID.
type Resource struct {
	Level Level
	ID    string
}

// TagMap holds a resource's main DICOM tags. Values are kept as decoded
// JSON (usually strings) so callers can detect unexpected types instead
// of silently coercing them.
type TagMap map[string]interface{}

// String returns the tag's value and whether it is present as a string.
func (t TagMap) String(name string) (string, bool) {
	v, ok := t[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Study is the archive's study-level metadata view.
type Study struct {
	ID                   string   `json:"ID"`
	ParentPatient        string   `json:"ParentPatient"`
	MainDicomTags        TagMap   `json:"MainDicomTags"`
	PatientMainDicomTags TagMap   `json:"PatientMainDicomTags"`
	Series               []string `json:"Series"`
}

// Series is the archive's series-level metadata view.
type Series struct {
	ID            string   `json:"ID"`
	ParentStudy   string   `json:"ParentStudy"`
	MainDicomTags TagMap   `json:"MainDicomTags"`
	Instances     []string `json:"Instances"`
}

// Instance is the archive's instance-level metadata view.
type Instance struct {
	ID            string `json:"ID"`
	ParentSeries  string `json:"ParentSeries"`
	MainDicomTags TagMap `json:"MainDicomTags"`
}

// Change is one entry of the archive's changes feed.
type Change struct {
	Seq          int64  `json:"Seq"`
	ChangeType   string `json:"ChangeType"`
	ResourceType string `json:"ResourceType"`
	ID           string `json:"ID"`
	Path         string `json:"Path"`
	Date         string `json:"Date"`
}

// ChangeBatch is one page of the changes feed.
type ChangeBatch struct {
	Changes []Change `json:"Changes"`
	Done    bool     `json:"Done"`
	Last    int64    `json:"Last"`
}

// StoreRequest asks the archive to push resources to a remote modality.
type StoreRequest struct {
	Resources         []string `json:"Resources"`
	MoveOriginatorAET string   `json:"MoveOriginatorAet,omitempty"`
	Synchronous       bool     `json:"Synchronous"`
}

// Change types emitted by the archive that this engine reacts to.
const (
	ChangeStableStudy  = "StableStudy"
	ChangeStableSeries = "StableSeries"
)
