package registry

import (
	"testing"

	"github.com/aiemr/graphrag-backend/internal/emr/normalize"
)

func TestLoadSections(t *testing.T) {
	reg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{
		"GeneralInformation", "MenstrualHistory", "MedicalHistory",
		"ObstetricsHistory", "PastMedication", "PastTesting", "SexualHistory",
	}
	if len(reg.Sections) != len(want) {
		t.Fatalf("sections=%d want %d", len(reg.Sections), len(want))
	}
	for i, name := range want {
		if reg.Sections[i].Name != name {
			t.Fatalf("section %d = %s want %s", i, reg.Sections[i].Name, name)
		}
		if reg.Section(name) == nil {
			t.Fatalf("Section(%s) lookup failed", name)
		}
	}
}

func TestMenstrualHistoryShape(t *testing.T) {
	reg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	sec := reg.Section("MenstrualHistory")
	if sec.RelType != "HAS_MENSTRUAL_HISTORY" {
		t.Fatalf("rel_type=%s", sec.RelType)
	}
	if len(sec.Scalars) != 14 {
		t.Fatalf("scalars=%d want 14", len(sec.Scalars))
	}
	if len(sec.Lists) != 1 || sec.Lists[0].Field != "Medicine" || !sec.Lists[0].DateObserved {
		t.Fatalf("lists=%+v", sec.Lists)
	}

	var menarche *ScalarField
	for i := range sec.Scalars {
		if sec.Scalars[i].Field == "AgeOfMenarche" {
			menarche = &sec.Scalars[i]
		}
	}
	if menarche == nil {
		t.Fatal("AgeOfMenarche missing")
	}
	if menarche.JSONKey != "age of menarche" || menarche.Type != normalize.TypeInt || menarche.Unit != "y" {
		t.Fatalf("AgeOfMenarche=%+v", menarche)
	}
}

func TestPastDiseaseAltKeys(t *testing.T) {
	reg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	sec := reg.Section("MedicalHistory")
	if len(sec.Composites) != 1 || sec.Composites[0].Field != "PastDisease" {
		t.Fatalf("composites=%+v", sec.Composites)
	}

	var onMed *AttrField
	for i, a := range sec.Composites[0].Attrs {
		if a.Prop == "on_medication" {
			onMed = &sec.Composites[0].Attrs[i]
		}
	}
	if onMed == nil {
		t.Fatal("on_medication attr missing")
	}
	wantKeys := []string{"disease on medication", "on_medication", "on_medicatoin"}
	if len(onMed.JSONKeys) != len(wantKeys) {
		t.Fatalf("json_keys=%v", onMed.JSONKeys)
	}
	for i, k := range wantKeys {
		if onMed.JSONKeys[i] != k {
			t.Fatalf("json_keys[%d]=%s want %s", i, onMed.JSONKeys[i], k)
		}
	}
	if onMed.Type != normalize.TypeBool {
		t.Fatalf("type=%s", onMed.Type)
	}
}

func TestPastMedicationDoseKey(t *testing.T) {
	reg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	attrs := reg.Section("PastMedication").Composites[0].Attrs
	for _, a := range attrs {
		if a.Prop == "dose" {
			if len(a.JSONKeys) != 1 || a.JSONKeys[0] != "does" {
				t.Fatalf("dose json_keys=%v", a.JSONKeys)
			}
			return
		}
	}
	t.Fatal("dose attr missing")
}

func TestSexualHistoryAltKey(t *testing.T) {
	reg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	sec := reg.Section("SexualHistory")
	for _, f := range sec.Scalars {
		if f.Field == "SexTransmitDiseaseSince" {
			if len(f.AltKeys) != 1 || f.AltKeys[0] != "sexual transmitted disease since" {
				t.Fatalf("alt_keys=%v", f.AltKeys)
			}
			return
		}
	}
	t.Fatal("SexTransmitDiseaseSince missing")
}

func TestRelTypes(t *testing.T) {
	reg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	types := reg.RelTypes()
	if len(types) != len(reg.Sections) {
		t.Fatalf("rel types=%d", len(types))
	}
	for _, rt := range types {
		if !relTypePattern.MatchString(rt) {
			t.Fatalf("rel type %q fails pattern", rt)
		}
	}
}
