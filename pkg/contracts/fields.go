package contracts

// FieldKind drives how an updated field value is checked.
type FieldKind int

const (
	KindText FieldKind = iota
	// KindName is a text field that must stay non-blank.
	KindName
	KindBool
	KindDate
	KindEnum
	// KindEnumList is an array whose items must belong to Allowed.
	KindEnumList
	KindTextList
	// KindRef is a string or array of identifiers owned by another referential.
	KindRef
	// KindObject is a nested object whose members are declared with dotted names.
	KindObject
	// KindImmutable fields are rejected in updates.
	KindImmutable
	// KindManaged fields are maintained by the service and silently dropped from updates.
	KindManaged
)

// FieldSpec describes one updatable top-level or dotted field.
type FieldSpec struct {
	Kind    FieldKind
	Allowed []string
	Ref     RefKind
}

var dataObjectVersions = []string{"BinaryMaster", "Dissemination", "Thumbnail", "TextContent", "PhysicalMaster"}

var parentLinkValues = []string{"AUTHORIZED", "REQUIRED", "UNAUTHORIZED"}

func commonFields() map[string]FieldSpec {
	return map[string]FieldSpec{
		externalID:         {Kind: KindImmutable},
		storedID:           {Kind: KindImmutable},
		externalTenant:     {Kind: KindImmutable},
		storedTenant:       {Kind: KindImmutable},
		"Identifier":       {Kind: KindImmutable},
		"CreationDate":     {Kind: KindManaged},
		"LastUpdate":       {Kind: KindManaged},
		"Name":             {Kind: KindName},
		"Description":      {Kind: KindText},
		"Status":           {Kind: KindEnum, Allowed: statusValues},
		"ActivationDate":   {Kind: KindDate},
		"DeactivationDate": {Kind: KindDate},
	}
}

var fieldSpecs = map[Collection]map[string]FieldSpec{
	AccessContracts: with(commonFields(), map[string]FieldSpec{
		"DataObjectVersion":      {Kind: KindEnumList, Allowed: dataObjectVersions},
		"OriginatingAgencies":    {Kind: KindRef, Ref: RefOriginatingAgencies},
		"WritingPermission":      {Kind: KindBool},
		"WritingRestrictedDesc":  {Kind: KindBool},
		"EveryOriginatingAgency": {Kind: KindBool},
		"EveryDataObjectVersion": {Kind: KindBool},
		"RootUnits":              {Kind: KindRef, Ref: RefRootUnits},
		"ExcludedRootUnits":      {Kind: KindRef, Ref: RefExcludedRootUnits},
		"AccessLog":              {Kind: KindEnum, Allowed: statusValues},
	}, storageFields()),
	IngestContracts: with(commonFields(), map[string]FieldSpec{
		"ArchiveProfiles":               {Kind: KindRef, Ref: RefArchiveProfiles},
		"LinkParentId":                  {Kind: KindRef, Ref: RefParentUnits},
		"CheckParentLink":               {Kind: KindEnum, Allowed: parentLinkValues},
		"CheckParentId":                 {Kind: KindRef, Ref: RefParentUnits},
		"ManagementContractId":          {Kind: KindRef, Ref: RefManagementContract},
		"MasterMandatory":               {Kind: KindBool},
		"EveryDataObjectVersion":        {Kind: KindBool},
		"DataObjectVersion":             {Kind: KindEnumList, Allowed: dataObjectVersions},
		"FormatUnidentifiedAuthorized":  {Kind: KindBool},
		"EveryFormatType":               {Kind: KindBool},
		"FormatType":                    {Kind: KindTextList},
		"ComputeInheritedRulesAtIngest": {Kind: KindBool},
	}),
	ManagementContracts: with(commonFields(), storageFields()),
}

// Field returns the descriptor of field in coll.
func (c Collection) Field(field string) (FieldSpec, bool) {
	spec, ok := fieldSpecs[c][field]
	return spec, ok
}

// EnumFields lists the enum-typed top-level fields of coll.
func (c Collection) EnumFields() map[string][]string {
	out := map[string][]string{}
	for name, spec := range fieldSpecs[c] {
		if spec.Kind == KindEnum || spec.Kind == KindEnumList {
			out[name] = spec.Allowed
		}
	}
	return out
}

// storageFields are shared by the variants carrying storage strategies.
func storageFields() map[string]FieldSpec {
	return map[string]FieldSpec{
		"Storage":                     {Kind: KindObject},
		"Storage.UnitStrategy":        {Kind: KindRef, Ref: RefStorageStrategies},
		"Storage.ObjectGroupStrategy": {Kind: KindRef, Ref: RefStorageStrategies},
		"Storage.ObjectStrategy":      {Kind: KindRef, Ref: RefStorageStrategies},
	}
}

func with(base map[string]FieldSpec, extras ...map[string]FieldSpec) map[string]FieldSpec {
	for _, extra := range extras {
		for k, v := range extra {
			base[k] = v
		}
	}
	return base
}
