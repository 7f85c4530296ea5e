// Package contracts defines the referential contract documents managed by
// the functional administration service: access, ingest and management
// contracts. The variants form a closed set behind the Contract interface.
package contracts

import (
	"fmt"
	"strings"
)

// Collection names a referential collection. Each contract variant lives in
// its own collection.
type Collection string

const (
	AccessContracts     Collection = "AccessContract"
	IngestContracts     Collection = "IngestContract"
	ManagementContracts Collection = "ManagementContract"
)

type collectionInfo struct {
	sequence string
	event    string
}

var collections = map[Collection]collectionInfo{
	AccessContracts:     {sequence: "AC", event: "ACCESS_CONTRACT"},
	IngestContracts:     {sequence: "IC", event: "INGEST_CONTRACT"},
	ManagementContracts: {sequence: "MC", event: "MANAGEMENT_CONTRACT"},
}

// ParseCollection resolves a collection name, case-insensitively.
func ParseCollection(name string) (Collection, error) {
	for c := range collections {
		if strings.EqualFold(string(c), name) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown collection %q", name)
}

func (c Collection) Valid() bool {
	_, ok := collections[c]
	return ok
}

// SequenceName is the counter name (and identifier prefix) of the collection.
func (c Collection) SequenceName() string { return collections[c].sequence }

func (c Collection) ImportEventCode() string { return "STP_IMPORT_" + collections[c].event }
func (c Collection) UpdateEventCode() string { return "STP_UPDATE_" + collections[c].event }
func (c Collection) BackupEventCode() string { return "STP_BACKUP_" + collections[c].event }

// New returns an empty contract of the collection's variant.
func (c Collection) New() Contract {
	switch c {
	case AccessContracts:
		return &AccessContract{}
	case IngestContracts:
		return &IngestContract{}
	case ManagementContracts:
		return &ManagementContract{}
	default:
		panic(fmt.Sprintf("contracts: no variant for collection %q", string(c)))
	}
}

// Status is the activation state of a contract.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

var statusValues = []string{string(StatusActive), string(StatusInactive)}

// RefKind names a family of cross-referenced identifiers carried by a contract.
type RefKind string

const (
	RefOriginatingAgencies RefKind = "OriginatingAgencies"
	RefRootUnits           RefKind = "RootUnits"
	RefExcludedRootUnits   RefKind = "ExcludedRootUnits"
	RefArchiveProfiles     RefKind = "ArchiveProfiles"
	RefManagementContract  RefKind = "ManagementContractId"
	RefParentUnits         RefKind = "CheckParentId"
	RefStorageStrategies   RefKind = "Storage"
)

// Base holds the fields shared by every contract variant.
type Base struct {
	ID               string `json:"#id,omitempty"`
	Tenant           int    `json:"#tenant"`
	Identifier       string `json:"Identifier,omitempty"`
	Name             string `json:"Name"`
	Description      string `json:"Description,omitempty"`
	Status           Status `json:"Status,omitempty"`
	CreationDate     string `json:"CreationDate,omitempty"`
	LastUpdate       string `json:"LastUpdate,omitempty"`
	ActivationDate   string `json:"ActivationDate,omitempty"`
	DeactivationDate string `json:"DeactivationDate,omitempty"`
}

// Contract is implemented by the three contract variants.
type Contract interface {
	Core() *Base
	Collection() Collection
	// References lists the externally owned identifiers the contract points
	// to, by kind. Kinds with no values are omitted.
	References() map[RefKind][]string
	// ApplyDefaults fills variant-specific enum defaults.
	ApplyDefaults()
}

// AccessContract governs which archived records a caller may query.
type AccessContract struct {
	Base
	DataObjectVersion      []string           `json:"DataObjectVersion,omitempty"`
	OriginatingAgencies    []string           `json:"OriginatingAgencies,omitempty"`
	WritingPermission      bool               `json:"WritingPermission"`
	WritingRestrictedDesc  bool               `json:"WritingRestrictedDesc"`
	EveryOriginatingAgency bool               `json:"EveryOriginatingAgency"`
	EveryDataObjectVersion bool               `json:"EveryDataObjectVersion"`
	RootUnits              []string           `json:"RootUnits,omitempty"`
	ExcludedRootUnits      []string           `json:"ExcludedRootUnits,omitempty"`
	AccessLog              string             `json:"AccessLog,omitempty"`
	Storage                *StorageStrategies `json:"Storage,omitempty"`
}

func (c *AccessContract) Core() *Base            { return &c.Base }
func (c *AccessContract) Collection() Collection { return AccessContracts }

func (c *AccessContract) References() map[RefKind][]string {
	refs := map[RefKind][]string{}
	put(refs, RefOriginatingAgencies, c.OriginatingAgencies...)
	put(refs, RefRootUnits, c.RootUnits...)
	put(refs, RefExcludedRootUnits, c.ExcludedRootUnits...)
	c.Storage.put(refs)
	return refs
}

func (c *AccessContract) ApplyDefaults() {
	if c.AccessLog == "" {
		c.AccessLog = string(StatusInactive)
	}
}

// IngestContract governs how archives enter the system.
type IngestContract struct {
	Base
	ArchiveProfiles               []string `json:"ArchiveProfiles,omitempty"`
	LinkParentID                  string   `json:"LinkParentId,omitempty"`
	CheckParentLink               string   `json:"CheckParentLink,omitempty"`
	CheckParentID                 []string `json:"CheckParentId,omitempty"`
	ManagementContractID          string   `json:"ManagementContractId,omitempty"`
	MasterMandatory               bool     `json:"MasterMandatory"`
	EveryDataObjectVersion        bool     `json:"EveryDataObjectVersion"`
	DataObjectVersion             []string `json:"DataObjectVersion,omitempty"`
	FormatUnidentifiedAuthorized  bool     `json:"FormatUnidentifiedAuthorized"`
	EveryFormatType               bool     `json:"EveryFormatType"`
	FormatType                    []string `json:"FormatType,omitempty"`
	ComputeInheritedRulesAtIngest bool     `json:"ComputeInheritedRulesAtIngest"`
}

func (c *IngestContract) Core() *Base            { return &c.Base }
func (c *IngestContract) Collection() Collection { return IngestContracts }

func (c *IngestContract) References() map[RefKind][]string {
	refs := map[RefKind][]string{}
	put(refs, RefArchiveProfiles, c.ArchiveProfiles...)
	put(refs, RefManagementContract, c.ManagementContractID)
	put(refs, RefParentUnits, append([]string{c.LinkParentID}, c.CheckParentID...)...)
	return refs
}

func (c *IngestContract) ApplyDefaults() {
	if c.CheckParentLink == "" {
		c.CheckParentLink = "AUTHORIZED"
	}
}

// StorageStrategies holds the storage strategy identifier used per object category.
type StorageStrategies struct {
	UnitStrategy        string `json:"UnitStrategy,omitempty"`
	ObjectGroupStrategy string `json:"ObjectGroupStrategy,omitempty"`
	ObjectStrategy      string `json:"ObjectStrategy,omitempty"`
}

func (s *StorageStrategies) put(refs map[RefKind][]string) {
	if s != nil {
		put(refs, RefStorageStrategies, s.UnitStrategy, s.ObjectGroupStrategy, s.ObjectStrategy)
	}
}

// ManagementContract binds storage strategies to the archives it covers.
type ManagementContract struct {
	Base
	Storage *StorageStrategies `json:"Storage,omitempty"`
}

func (c *ManagementContract) Core() *Base            { return &c.Base }
func (c *ManagementContract) Collection() Collection { return ManagementContracts }

func (c *ManagementContract) References() map[RefKind][]string {
	refs := map[RefKind][]string{}
	c.Storage.put(refs)
	return refs
}

func (c *ManagementContract) ApplyDefaults() {}

// put appends the non-blank, not yet present values under kind.
func put(refs map[RefKind][]string, kind RefKind, values ...string) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || contains(refs[kind], v) {
			continue
		}
		refs[kind] = append(refs[kind], v)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
