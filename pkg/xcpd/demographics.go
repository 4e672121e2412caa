package xcpd

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
)

const (
	genderCodeSystem = "2.16.840.1.113883.5.1"
	npiRoot          = "2.16.840.1.113883.4.6"
)

// hl7Gender maps an administrative gender to the HL7 v3 code
func hl7Gender(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "female", "f":
		return "F"
	case "male", "m":
		return "M"
	}
	return "UN"
}

func genderFromHL7(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "F":
		return "female"
	case "M":
		return "male"
	case "UN", "U":
		return "unknown"
	}
	return ""
}

func birthDateFromHL7(v string) string {
	if iso := message.HL7ToISODate(v); iso != "" {
		return iso
	}
	return v
}

// writeParameterList writes the queryByParameter/parameterList of a
// patient discovery request.
func writeParameterList(query *etree.Element, p ihe.PatientResource, providerIDs []string) {
	params := message.Add(query, "parameterList")

	gender := message.Add(params, "livingSubjectAdministrativeGender")
	message.Add(gender, "value", "code", hl7Gender(p.Gender), "codeSystem", genderCodeSystem)
	message.AddText(gender, "semanticsText", "LivingSubject.administrativeGender")

	if p.BirthDate != "" {
		birth := message.Add(params, "livingSubjectBirthTime")
		message.Add(birth, "value", "value", message.ISODateToHL7(p.BirthDate))
		message.AddText(birth, "semanticsText", "LivingSubject.birthTime")
	}

	if len(p.Identifier) > 0 {
		ids := message.Add(params, "livingSubjectId")
		for _, id := range p.Identifier {
			message.Add(ids, "value", "extension", id.Value, "root", ihe.NormalizeOID(id.System))
		}
		message.AddText(ids, "semanticsText", "LivingSubject.id")
	}

	if len(p.Name) > 0 {
		names := message.Add(params, "livingSubjectName")
		for _, n := range p.Name {
			writeName(message.Add(names, "value"), n)
		}
		message.AddText(names, "semanticsText", "LivingSubject.name")
	}

	if len(p.Address) > 0 {
		addrs := message.Add(params, "patientAddress")
		for _, a := range p.Address {
			writeAddress(message.Add(addrs, "value"), a)
		}
		message.AddText(addrs, "semanticsText", "Patient.addr")
	}

	if len(p.Telecom) > 0 {
		telecoms := message.Add(params, "patientTelecom")
		for _, t := range p.Telecom {
			message.Add(telecoms, "value", "use", telecomUse(t), "value", t.Value)
		}
		message.AddText(telecoms, "semanticsText", "Patient.telecom")
	}

	for _, id := range providerIDs {
		provider := message.Add(params, "principalCareProviderId")
		message.Add(provider, "value", "extension", id, "root", npiRoot)
		message.AddText(provider, "semanticsText", "AssignedProvider.id")
	}
}

// readParameterList reads the demographics of an inbound request
func readParameterList(params *etree.Element) ihe.PatientResource {
	var p ihe.PatientResource
	if params == nil {
		return p
	}

	p.Gender = genderFromHL7(message.AttrAt(params, "code", "livingSubjectAdministrativeGender", "value"))
	if birth := message.AttrAt(params, "value", "livingSubjectBirthTime", "value"); birth != "" {
		p.BirthDate = birthDateFromHL7(birth)
	}
	for _, ids := range params.SelectElements("livingSubjectId") {
		for _, v := range ids.SelectElements("value") {
			if id := readIdentifier(v); id != nil {
				p.Identifier = append(p.Identifier, *id)
			}
		}
	}
	for _, names := range params.SelectElements("livingSubjectName") {
		for _, v := range names.SelectElements("value") {
			p.Name = append(p.Name, readName(v))
		}
	}
	for _, addrs := range params.SelectElements("patientAddress") {
		for _, v := range addrs.SelectElements("value") {
			if a := readAddress(v); a != nil {
				p.Address = append(p.Address, *a)
			}
		}
	}
	for _, telecoms := range params.SelectElements("patientTelecom") {
		for _, v := range telecoms.SelectElements("value") {
			if t := readTelecom(v); t != nil {
				p.Telecom = append(p.Telecom, *t)
			}
		}
	}
	return p
}

// writePatientPerson writes the patientPerson of a registration event
func writePatientPerson(patient *etree.Element, p ihe.PatientResource) {
	person := message.Add(patient, "patientPerson", "classCode", "PSN", "determinerCode", "INSTANCE")
	for _, n := range p.Name {
		writeName(message.Add(person, "name"), n)
	}
	for _, t := range p.Telecom {
		message.Add(person, "telecom", "use", telecomUse(t), "value", t.Value)
	}
	message.Add(person, "administrativeGenderCode", "code", hl7Gender(p.Gender))
	if p.BirthDate != "" {
		message.Add(person, "birthTime", "value", message.ISODateToHL7(p.BirthDate))
	}
	for _, a := range p.Address {
		writeAddress(message.Add(person, "addr"), a)
	}
	for _, id := range p.Identifier {
		other := message.Add(person, "asOtherIDs", "classCode", "PAT")
		message.Add(other, "id", "extension", id.Value, "root", ihe.NormalizeOID(id.System))
	}
}

// readPatientPerson reads the demographics of a matched patient
func readPatientPerson(person *etree.Element) ihe.PatientResource {
	var p ihe.PatientResource
	if person == nil {
		return p
	}
	for _, n := range person.SelectElements("name") {
		p.Name = append(p.Name, readName(n))
	}
	p.Gender = genderFromHL7(message.AttrAt(person, "code", "administrativeGenderCode"))
	if birth := message.AttrAt(person, "value", "birthTime"); birth != "" {
		p.BirthDate = birthDateFromHL7(birth)
	}
	for _, a := range person.SelectElements("addr") {
		if addr := readAddress(a); addr != nil {
			p.Address = append(p.Address, *addr)
		}
	}
	for _, t := range person.SelectElements("telecom") {
		if telecom := readTelecom(t); telecom != nil {
			p.Telecom = append(p.Telecom, *telecom)
		}
	}
	for _, other := range person.SelectElements("asOtherIDs") {
		for _, id := range other.SelectElements("id") {
			if identifier := readIdentifier(id); identifier != nil {
				p.Identifier = append(p.Identifier, *identifier)
			}
		}
	}
	return p
}

func writeName(el *etree.Element, n ihe.Name) {
	for _, given := range n.Given {
		message.AddText(el, "given", given)
	}
	message.AddText(el, "family", n.Family)
}

func readName(el *etree.Element) ihe.Name {
	n := ihe.Name{Family: message.Text(el, "family")}
	for _, given := range el.SelectElements("given") {
		if v := message.Text(given); v != "" {
			n.Given = append(n.Given, v)
		}
	}
	return n
}

func writeAddress(el *etree.Element, a ihe.Address) {
	message.AddText(el, "streetAddressLine", strings.Join(a.Line, ", "))
	message.AddText(el, "city", a.City)
	message.AddText(el, "state", a.State)
	message.AddText(el, "postalCode", a.PostalCode)
	message.AddText(el, "country", a.Country)
}

func readAddress(el *etree.Element) *ihe.Address {
	a := ihe.Address{
		City:       message.Text(el, "city"),
		State:      message.Text(el, "state"),
		PostalCode: message.Text(el, "postalCode"),
		Country:    message.Text(el, "country"),
	}
	for _, line := range el.SelectElements("streetAddressLine") {
		if v := message.Text(line); v != "" {
			a.Line = append(a.Line, v)
		}
	}
	if a.City == "" && a.State == "" && a.PostalCode == "" && len(a.Line) == 0 {
		return nil
	}
	return &a
}

func telecomUse(t ihe.Telecom) string {
	if t.System != "" && len(t.System) <= 3 && strings.ToUpper(t.System) == t.System {
		return t.System
	}
	return "HP"
}

func readTelecom(el *etree.Element) *ihe.Telecom {
	value := message.Attr(el, "value")
	if value == "" {
		return nil
	}
	return &ihe.Telecom{System: message.Attr(el, "use"), Value: value}
}

func readIdentifier(el *etree.Element) *ihe.Identifier {
	value := message.Attr(el, "extension")
	system := ihe.NormalizeOID(message.Attr(el, "root"))
	if value == "" && system == "" {
		return nil
	}
	return &ihe.Identifier{System: system, Value: value}
}
