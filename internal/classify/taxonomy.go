package classify

// Bounded chief-complaint taxonomy. Every call is tagged with exactly one.
const (
	TypeCardiacArrest  = "Cardiac Arrest"
	TypeChestPain      = "Chest Pain/Heart"
	TypeBreathing      = "Difficulty Breathing"
	TypeUnconscious    = "Unconscious/Fainting"
	TypeSeizure        = "Seizure"
	TypeChoking        = "Choking"
	TypeSickPerson     = "Sick Person"
	TypeInjuredPerson  = "Injured Person"
	TypeAbdominalPain  = "Abdominal Pain"
	TypeBackPain       = "Back Pain"
	TypeOverdose       = "Overdose"
	TypePsychiatric    = "Psychiatric/Mental-Emotional"
	TypeFireHazmat     = "Fire/Hazmat"
	TypeTrashFire      = "Trash Fire"
	TypeMVC            = "Vehicle Accident (MVC)"
	TypeTrauma         = "Trauma/Assault"
	TypeGunshot        = "Gunshot Wound"
	TypeBuildingAlarm  = "Building Alarm"
	TypeInvestigation  = "Investigation"
	TypeHospitalComms  = "EMS-Hospital Communications"
	TypeEnvironmental  = "Environmental"
	TypeOBChildbirth   = "OB/Childbirth"
	TypeMedical        = "Medical Emergency"
	TypeUnknown        = "Unknown Call Type"
	TypeNonEmergency   = "Non-Emergency Content"
	TypeScannerAudio   = "Scanner Audio"
)

// AllTypes lists the taxonomy in display order.
var AllTypes = []string{
	TypeCardiacArrest, TypeChestPain, TypeBreathing, TypeUnconscious,
	TypeSeizure, TypeChoking, TypeSickPerson, TypeInjuredPerson,
	TypeAbdominalPain, TypeBackPain, TypeOverdose, TypePsychiatric,
	TypeFireHazmat, TypeTrashFire, TypeMVC, TypeTrauma, TypeGunshot,
	TypeBuildingAlarm, TypeInvestigation, TypeHospitalComms,
	TypeEnvironmental, TypeOBChildbirth, TypeMedical,
	TypeUnknown, TypeNonEmergency,
}

// typeKeywords maps each call type to its trigger keywords. Longest match
// wins when keywords for several types appear in one transcript.
var typeKeywords = map[string][]string{
	TypeCardiacArrest: {"cardiac arrest", "cpr in progress", "code blue", "not breathing"},
	TypeChestPain:     {"chest pain", "chest discomfort", "heart problem", "heart attack"},
	TypeBreathing:     {"difficulty breathing", "shortness of breath", "trouble breathing", "respiratory distress"},
	TypeUnconscious:   {"unconscious", "unresponsive", "fainting", "passed out", "syncope"},
	TypeSeizure:       {"seizure", "convulsions", "postictal"},
	TypeChoking:       {"choking", "airway obstruction"},
	TypeSickPerson:    {"sick person", "general illness", "nausea", "vomiting", "ill person"},
	TypeInjuredPerson: {"injured person", "fall victim", "person down", "laceration"},
	TypeAbdominalPain: {"abdominal pain", "stomach pain"},
	TypeBackPain:      {"back pain"},
	TypeOverdose:      {"overdose", "possible overdose", "narcan", "poisoning", "ingestion"},
	TypePsychiatric:   {"psychiatric", "mental emotional", "mental-emotional", "suicidal", "behavioral"},
	TypeFireHazmat:    {"structure fire", "working fire", "hazmat", "gas leak", "smoke in the building"},
	TypeTrashFire:     {"trash fire", "dumpster fire", "rubbish fire"},
	TypeMVC:           {"vehicle accident", "motor vehicle", "mvc", "car accident", "crash", "rollover", "personal injury accident"},
	TypeTrauma:        {"trauma", "assault", "stabbing", "stab wound"},
	TypeGunshot:       {"gunshot", "shooting", "shots fired", "gsw"},
	TypeBuildingAlarm: {"building alarm", "fire alarm", "alarm activation"},
	TypeInvestigation: {"investigation", "odor investigation", "smoke investigation"},
	TypeHospitalComms: {"medical director", "patient report", "ems report", "incoming patient"},
	TypeEnvironmental: {"heat exhaustion", "heat stroke", "hypothermia", "exposure", "environmental"},
	TypeOBChildbirth:  {"childbirth", "labor", "pregnancy", "ob emergency", "contractions"},
	TypeMedical:       {"medical emergency", "medical call", "unknown medical"},
}

// urgencyWeights scores keywords by clinical urgency. The classification's
// urgency is the max weight over matched keywords; unmatched keywords
// default to 0.2.
var urgencyWeights = map[string]float64{
	"cardiac arrest":       1.0,
	"cpr in progress":      1.0,
	"not breathing":        1.0,
	"gunshot":              0.95,
	"shooting":             0.95,
	"shots fired":          0.95,
	"gsw":                  0.95,
	"overdose":             0.9,
	"possible overdose":    0.9,
	"narcan":               0.9,
	"chest pain":           0.8,
	"chest discomfort":     0.8,
	"heart attack":         0.8,
	"difficulty breathing": 0.8,
	"shortness of breath":  0.8,
	"trouble breathing":    0.8,
	"unconscious":          0.8,
	"unresponsive":         0.8,
	"trauma":               0.7,
	"assault":              0.7,
	"stabbing":             0.7,
	"vehicle accident":     0.7,
	"motor vehicle":        0.7,
	"mvc":                  0.7,
	"crash":                0.7,
	"seizure":              0.7,
	"convulsions":          0.7,
	"sick person":          0.3,
}

const defaultUrgency = 0.2
