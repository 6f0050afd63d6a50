package adminapi

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tinytelemetry/errlens/internal/model"
)

const (
	loginPath  = "/bxmAdmin/json/login"
	searchPath = "/bxmAdmin/json"
)

type requestHeader struct {
	Application string `json:"application"`
	LangCd      string `json:"langCd"`
	Service     string `json:"service"`
	Operation   string `json:"operation"`
}

type loginOMM struct {
	UserID   string `json:"userId"`
	UserPwd  string `json:"userPwd"`
	Lang     string `json:"lang"`
	DomainID string `json:"domainId"`
}

type loginRequest struct {
	Header   requestHeader `json:"header"`
	LoginOMM loginOMM      `json:"LoginOMM"`
}

func newLoginRequest(userID, password string) loginRequest {
	return loginRequest{
		Header: requestHeader{
			Application: "bxmAdmin",
			LangCd:      "ko",
			Service:     "AuthorityService",
			Operation:   "loginOperation",
		},
		LoginOMM: loginOMM{
			UserID:   userID,
			UserPwd:  password,
			Lang:     "ko",
			DomainID: "OKC",
		},
	}
}

type searchCondition struct {
	Start     string `json:"opOccurDttmStart"`
	End       string `json:"opOccurDttmEnd"`
	PageCount string `json:"pageCount"`
	PageNum   string `json:"pageNum"`
	GUID      string `json:"guid"`
	SvcNm     string `json:"svcNm"`
	OpNm      string `json:"opNm"`
	BxmAppID  string `json:"bxmAppId"`
	OpErrYn   string `json:"opErrYn"`
}

type searchRequest struct {
	Header    requestHeader   `json:"header"`
	Condition searchCondition `json:"OnlineLogSearchConditionOMM"`
}

func newSearchRequest(start, end string, page int) searchRequest {
	return searchRequest{
		Header: requestHeader{
			Application: "bxmAdmin",
			LangCd:      "ko",
			Service:     "OnlineLogService",
			Operation:   "getServiceLogList",
		},
		Condition: searchCondition{
			Start:     start,
			End:       end,
			PageCount: strconv.Itoa(model.PageSize),
			PageNum:   strconv.Itoa(page),
			OpErrYn:   "Y",
		},
	}
}

type responseHeader struct {
	ReturnCode    string `json:"returnCode"`
	ReturnMessage string `json:"returnMessage"`
}

// loginFailure reports whether a login body carries an application-level
// failure code. Bodies that are not JSON are accepted: the session cookie is
// what matters.
func loginFailure(body []byte) (string, bool) {
	var resp struct {
		Header *responseHeader `json:"header"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Header == nil {
		return "", false
	}
	code := strings.TrimSpace(resp.Header.ReturnCode)
	switch strings.ToUpper(code) {
	case "", "0", "00", "000", "OK", "SUCCESS":
		return "", false
	}
	msg := code
	if resp.Header.ReturnMessage != "" {
		msg += ": " + resp.Header.ReturnMessage
	}
	return msg, true
}

type rawLog struct {
	OccurredAt  string `json:"opOccurDttm"`
	ChannelType string `json:"chlTypeCd"`
	AppID       string `json:"bxmAppId"`
	ServiceName string `json:"svcNm"`
	OpName      string `json:"opNm"`
	ErrCode     string `json:"errCode"`
	MsgCont     string `json:"msgCont"`
	ErrMsg      string `json:"errMsg"`
	NodeName    string `json:"nodeNm"`
}

type searchResponse struct {
	ServiceLogListOMM *struct {
		ServiceLogList []rawLog `json:"serviceLogList"`
	} `json:"ServiceLogListOMM"`
}

// records extracts normalized records. A missing envelope yields zero records.
func (r searchResponse) records() []model.LogRecord {
	if r.ServiceLogListOMM == nil {
		return []model.LogRecord{}
	}
	out := make([]model.LogRecord, 0, len(r.ServiceLogListOMM.ServiceLogList))
	for _, item := range r.ServiceLogListOMM.ServiceLogList {
		out = append(out, item.toRecord())
	}
	return out
}

func (l rawLog) toRecord() model.LogRecord {
	code := l.ErrCode
	if strings.TrimSpace(code) == "" {
		code = "FAIL"
	}
	msg := l.MsgCont
	if strings.TrimSpace(msg) == "" {
		msg = l.ErrMsg
	}
	if strings.TrimSpace(msg) == "" {
		msg = "Error"
	}
	return model.LogRecord{
		Time:      l.OccurredAt,
		Channel:   l.ChannelType,
		App:       l.AppID,
		Service:   l.ServiceName,
		Operation: l.OpName,
		Code:      code,
		Message:   msg,
		Node:      l.NodeName,
	}.Normalize()
}
