package registry

import "fmt"

// Section is a logical on/off grouping tag shared by one or more descriptors
type Section uint32

const (
	// SectionUnused marks a descriptor inactive; it is skipped at apply time
	SectionUnused Section = iota
	SectionOFFLINE
	SectionBGRA
	SectionCOMPAT
	SectionWHITELIST
	SectionKEGVA
	SectionBOARDID
	SectionNSTREAM
	SectionNVIDIA
)

var sectionNames = map[Section]string{
	SectionUnused:    "unused",
	SectionOFFLINE:   "force-online-renderer",
	SectionBGRA:      "allow-non-bgra",
	SectionCOMPAT:    "compatible-renderer",
	SectionWHITELIST: "executable-whitelist",
	SectionKEGVA:     "disable-key-exchange",
	SectionBOARDID:   "board-id",
	SectionNSTREAM:   "fp10-streaming",
	SectionNVIDIA:    "nvidia-compat",
}

// Sections lists every real section in declaration order
func Sections() []Section {
	return []Section{
		SectionOFFLINE,
		SectionBGRA,
		SectionCOMPAT,
		SectionWHITELIST,
		SectionKEGVA,
		SectionBOARDID,
		SectionNSTREAM,
		SectionNVIDIA,
	}
}

func (s Section) String() string {
	if name, ok := sectionNames[s]; ok {
		return name
	}
	return fmt.Sprintf("section(%d)", uint32(s))
}

// ParseSection looks a section up by its name
func ParseSection(name string) (Section, error) {
	for s, n := range sectionNames {
		if n == name {
			return s, nil
		}
	}
	return SectionUnused, fmt.Errorf("unknown section %q", name)
}
