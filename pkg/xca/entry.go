package xca

import (
	"strconv"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
)

// XDS document entry identification and classification schemes
const (
	schemeUniqueID            = "urn:uuid:2e82c1f6-a085-4c72-9da3-8640a32e42ab"
	schemePatientID           = "urn:uuid:58a6f841-87b3-4a3e-92fd-a8ffeff98427"
	schemeClassCode           = "urn:uuid:41a5887f-8865-4c09-adf7-e362475b143a"
	schemeTypeCode            = "urn:uuid:f0306f51-975f-434e-a61c-c59651d33983"
	schemeFormatCode          = "urn:uuid:a09d5840-386c-46f2-b5ad-9c3699a4309d"
	schemeConfidentialityCode = "urn:uuid:f4f85eac-e6cb-4883-b524-f2705394840f"
	schemePracticeSettingCode = "urn:uuid:cccf5598-8b07-4b77-a05e-ae952c785ead"
	schemeFacilityTypeCode    = "urn:uuid:f33fb8ac-18af-42cc-ae0e-ed0b0bdb91e1"
	schemeAuthor              = "urn:uuid:93606bcf-9494-43ec-9b4e-a7748d1a838d"

	objectTypeStable   = "urn:uuid:7edca82f-054d-47f2-a032-9b2a5b5186c1"
	objectTypeOnDemand = "urn:uuid:34268e47-fdf5-41a6-ba33-82133c465248"

	statusApproved = "urn:oasis:names:tc:ebxml-regrep:StatusType:Approved"
)

// readEntry converts an ExtrinsicObject into a DocumentReference. ok is
// false when the entry has no unique id.
func readEntry(obj *etree.Element, fallbackHome string) (ref ihe.DocumentReference, ok bool) {
	slots := map[string][]string{}
	for _, slot := range obj.SelectElements("Slot") {
		slots[message.Attr(slot, "name")] = slotValues(slot)
	}
	first := func(name string) string {
		if v := slots[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	for _, ext := range obj.SelectElements("ExternalIdentifier") {
		switch message.Attr(ext, "identificationScheme") {
		case schemeUniqueID:
			ref.DocUniqueID = ihe.NormalizeOID(message.Attr(ext, "value"))
		case schemePatientID:
			ref.SourcePatientID = message.Attr(ext, "value")
		}
	}
	if ref.DocUniqueID == "" {
		return ref, false
	}

	ref.HomeCommunityID = ihe.NormalizeOID(message.Attr(obj, "home"))
	if ref.HomeCommunityID == "" {
		ref.HomeCommunityID = ihe.NormalizeOID(fallbackHome)
	}
	ref.RepositoryUniqueID = ihe.NormalizeOID(first("repositoryUniqueId"))
	if ref.RepositoryUniqueID == "" {
		ref.RepositoryUniqueID = ref.HomeCommunityID
	}
	ref.ContentType = message.Attr(obj, "mimeType")
	ref.Language = first("languageCode")
	ref.Hash = first("hash")
	if size, err := strconv.ParseInt(first("size"), 10, 64); err == nil {
		ref.Size = &size
	}
	ref.ServiceStartTime = message.HL7ToISOTime(first("serviceStartTime"))
	ref.ServiceStopTime = message.HL7ToISOTime(first("serviceStopTime"))
	ref.Creation = message.HL7ToISOTime(first("creationTime"))
	if ref.Creation == "" {
		ref.Creation = ref.ServiceStartTime
	}
	if ref.SourcePatientID == "" {
		ref.SourcePatientID = first("sourcePatientId")
	}
	ref.Title = localizedString(obj.SelectElement("Name"))

	for _, c := range obj.SelectElements("Classification") {
		scheme := message.Attr(c, "classificationScheme")
		if scheme == schemeAuthor {
			for _, slot := range c.SelectElements("Slot") {
				switch message.Attr(slot, "name") {
				case "authorPerson":
					ref.Authors = append(ref.Authors, slotValues(slot)...)
				case "authorInstitution":
					ref.AuthorInstitutions = append(ref.AuthorInstitutions, slotValues(slot)...)
				}
			}
			continue
		}
		code := readClassification(c)
		if code == nil {
			continue
		}
		switch scheme {
		case schemeClassCode:
			ref.ClassCode = code
		case schemeTypeCode:
			ref.TypeCode = code
		case schemeFormatCode:
			ref.FormatCode = code
		case schemeConfidentialityCode:
			ref.ConfidentialityCode = code
		case schemePracticeSettingCode:
			ref.PracticeSettingCode = code
		case schemeFacilityTypeCode:
			ref.FacilityTypeCode = code
		}
	}
	if ref.Title == "" && ref.ClassCode != nil {
		ref.Title = ref.ClassCode.Display
	}
	return ref, true
}

// readObjectRef converts an ObjectRef into a reference-only entry. The
// registry entry UUID is carried in DocUniqueID.
func readObjectRef(obj *etree.Element, fallbackHome string) (ihe.DocumentReference, bool) {
	id := message.Attr(obj, "id")
	if id == "" {
		return ihe.DocumentReference{}, false
	}
	home := ihe.NormalizeOID(message.Attr(obj, "home"))
	if home == "" {
		home = ihe.NormalizeOID(fallbackHome)
	}
	return ihe.DocumentReference{HomeCommunityID: home, DocUniqueID: id}, true
}

func readClassification(c *etree.Element) *ihe.Code {
	code := ihe.Code{
		Code:    message.Attr(c, "nodeRepresentation"),
		Display: localizedString(c.SelectElement("Name")),
	}
	for _, slot := range c.SelectElements("Slot") {
		if message.Attr(slot, "name") == "codingScheme" {
			if v := slotValues(slot); len(v) > 0 {
				code.System = ihe.NormalizeOID(v[0])
			}
		}
	}
	if code.Code == "" && code.Display == "" {
		return nil
	}
	return &code
}

func slotValues(slot *etree.Element) []string {
	var values []string
	for _, v := range message.Children(slot, "Value", "ValueList") {
		if text := message.Text(v); text != "" {
			values = append(values, text)
		}
	}
	return values
}

func localizedString(name *etree.Element) string {
	return message.AttrAt(name, "value", "LocalizedString")
}

// writeEntry writes ref as a LeafClass ExtrinsicObject
func writeEntry(parent *etree.Element, ref ihe.DocumentReference, patient ihe.ExternalGatewayPatient, home string) {
	entryID := ihe.WrapUUID(uuid.NewString())
	if ref.HomeCommunityID != "" {
		home = ref.HomeCommunityID
	}

	obj := message.Add(parent, "rim:ExtrinsicObject",
		"id", entryID,
		"home", ihe.WrapOID(home),
		"isOpaque", "false",
		"mimeType", ref.ContentType,
		"objectType", objectTypeStable,
		"status", statusApproved,
	)

	writeSlot(obj, "creationTime", hl7Time(ref.Creation))
	writeSlot(obj, "hash", ref.Hash)
	writeSlot(obj, "languageCode", ref.Language)
	writeSlot(obj, "repositoryUniqueId", ihe.NormalizeOID(ref.RepositoryUniqueID))
	writeSlot(obj, "serviceStartTime", hl7Time(ref.ServiceStartTime))
	writeSlot(obj, "serviceStopTime", hl7Time(ref.ServiceStopTime))
	if ref.Size != nil {
		writeSlot(obj, "size", strconv.FormatInt(*ref.Size, 10))
	}
	writeSlot(obj, "sourcePatientId", patientIDValue(patient))

	if ref.Title != "" {
		message.Add(message.Add(obj, "rim:Name"), "rim:LocalizedString", "value", ref.Title)
	}

	if len(ref.Authors) > 0 || len(ref.AuthorInstitutions) > 0 {
		author := message.Add(obj, "rim:Classification",
			"classificationScheme", schemeAuthor,
			"classifiedObject", entryID,
			"id", ihe.WrapUUID(uuid.NewString()),
			"nodeRepresentation", "",
		)
		writeSlot(author, "authorPerson", ref.Authors...)
		writeSlot(author, "authorInstitution", ref.AuthorInstitutions...)
	}
	writeClassification(obj, entryID, schemeClassCode, ref.ClassCode)
	writeClassification(obj, entryID, schemeConfidentialityCode, ref.ConfidentialityCode)
	writeClassification(obj, entryID, schemeFormatCode, ref.FormatCode)
	writeClassification(obj, entryID, schemeFacilityTypeCode, ref.FacilityTypeCode)
	writeClassification(obj, entryID, schemePracticeSettingCode, ref.PracticeSettingCode)
	writeClassification(obj, entryID, schemeTypeCode, ref.TypeCode)

	writeExternalIdentifier(obj, entryID, schemePatientID, patientIDValue(patient), "XDSDocumentEntry.patientId")
	writeExternalIdentifier(obj, entryID, schemeUniqueID, ref.DocUniqueID, "XDSDocumentEntry.uniqueId")
}

func writeSlot(parent *etree.Element, name string, values ...string) {
	var present []string
	for _, v := range values {
		if v != "" {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return
	}
	list := message.Add(message.Add(parent, "rim:Slot", "name", name), "rim:ValueList")
	for _, v := range present {
		message.AddText(list, "rim:Value", v)
	}
}

func writeClassification(parent *etree.Element, entryID, scheme string, code *ihe.Code) {
	if code == nil || code.Code == "" {
		return
	}
	c := message.Add(parent, "rim:Classification",
		"classificationScheme", scheme,
		"classifiedObject", entryID,
		"id", ihe.WrapUUID(uuid.NewString()),
		"nodeRepresentation", code.Code,
	)
	writeSlot(c, "codingScheme", ihe.NormalizeOID(code.System))
	if code.Display != "" {
		message.Add(message.Add(c, "rim:Name"), "rim:LocalizedString", "value", code.Display)
	}
}

func writeExternalIdentifier(parent *etree.Element, entryID, scheme, value, name string) {
	if value == "" {
		return
	}
	ext := message.Add(parent, "rim:ExternalIdentifier",
		"id", ihe.WrapUUID(uuid.NewString()),
		"identificationScheme", scheme,
		"objectType", "urn:oasis:names:tc:ebxml-regrep:ObjectType:RegistryObject:ExternalIdentifier",
		"registryObject", entryID,
		"value", value,
	)
	message.Add(message.Add(ext, "rim:Name"), "rim:LocalizedString", "value", name)
}

// hl7Time converts an RFC 3339 or HL7 timestamp to YYYYMMDDHHmmss
func hl7Time(v string) string {
	if v == "" {
		return ""
	}
	t, err := message.ParseHL7Time(v)
	if err != nil {
		return v
	}
	return message.FormatHL7Time(t)
}

// patientIDValue formats a patient id as an XDS CX value
func patientIDValue(p ihe.ExternalGatewayPatient) string {
	if p.ID == "" {
		return ""
	}
	return p.ID + "^^^&" + ihe.NormalizeOID(p.System) + "&ISO"
}
