package metadata

type crossrefResponse struct {
	Message crossrefWork `json:"message"`
}

type crossrefWork struct {
	Title          []string        `json:"title"`
	ContainerTitle []string        `json:"container-title"`
	DOI            string          `json:"DOI"`
	Type           string          `json:"type"`
	Author         []crossrefName  `json:"author"`
	Issued         crossrefDateSet `json:"issued"`
}

type crossrefName struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type crossrefDateSet struct {
	DateParts [][]int `json:"date-parts"`
}

type dataciteResponse struct {
	Response struct {
		Docs []dataciteDoc `json:"docs"`
	} `json:"response"`
}

type dataciteDoc struct {
	DOI                 string   `json:"doi"`
	Title               []string `json:"title"`
	JournalTitle        string   `json:"journal_title"`
	PublicationYear     int      `json:"publicationYear"`
	ResourceTypeGeneral string   `json:"resourceTypeGeneral"`
	XML                 string   `json:"xml"`
}

type dataciteResource struct {
	Creators struct {
		Creator []struct {
			CreatorName string `xml:"creatorName"`
		} `xml:"creator"`
	} `xml:"creators"`
}

type orcidResponse struct {
	Profile *orcidProfile `json:"orcid-profile"`
}

type orcidProfile struct {
	Identifier struct {
		URI string `json:"uri"`
	} `json:"orcid-identifier"`
	History struct {
		SubmissionDate struct {
			Value int64 `json:"value"`
		} `json:"submission-date"`
	} `json:"orcid-history"`
	Bio struct {
		PersonalDetails struct {
			GivenNames struct {
				Value string `json:"value"`
			} `json:"given-names"`
			FamilyName struct {
				Value string `json:"value"`
			} `json:"family-name"`
		} `json:"personal-details"`
	} `json:"orcid-bio"`
}

type europePMCResponse struct {
	ResultList struct {
		Result []europePMCResult `json:"result"`
	} `json:"resultList"`
}

type europePMCResult struct {
	Title        string `json:"title"`
	AuthorString string `json:"authorString"`
	JournalTitle string `json:"journalTitle"`
	PubYear      string `json:"pubYear"`
	DOI          string `json:"doi"`
}

type idConverterResponse struct {
	Status  string              `json:"status"`
	Records []idConverterRecord `json:"records"`
}

type idConverterRecord struct {
	PMID   string `json:"pmid"`
	PMCID  string `json:"pmcid"`
	DOI    string `json:"doi"`
	Status string `json:"status"`
}
