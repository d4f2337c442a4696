package stage

const gapsPrompt = `You are screening a scientific paper for a systematic literature review.

Identify every RESEARCH GAP the authors state or clearly imply: missing knowledge, untested conditions, limitations the paper calls out as needing future work.

From the following section of the paper, extract each gap with supporting verbatim quotes. Copy quotes exactly as written, including any in-text citations such as "(Smith, 2020)".

Respond with a valid JSON object:
{"items": [{"statement": "<one-sentence description of the gap>", "quotes": [{"text": "<verbatim excerpt>", "page": <page number>, "type": "explanatory|contextual|methodological|technical"}]}]}

If this section contains no research gaps, respond with {"items": []}.

Page markers like [page 3] in the text give the page number for quotes.

Paper section:
%s`

const variablesPrompt = `You are screening a scientific paper for a systematic literature review.

Identify every VARIABLE the study measures or manipulates: independent variables, dependent variables, covariates, and measured outcomes.

From the following section of the paper, extract each variable with supporting verbatim quotes. Copy quotes exactly as written, including any in-text citations.

Respond with a valid JSON object:
{"items": [{"statement": "<variable name and role>", "quotes": [{"text": "<verbatim excerpt>", "page": <page number>, "type": "explanatory|contextual|methodological|technical"}]}]}

If this section contains no study variables, respond with {"items": []}.

Page markers like [page 3] in the text give the page number for quotes.

Paper section:
%s`

const techniquesPrompt = `You are screening a scientific paper for a systematic literature review.

Identify every TECHNIQUE or method the study uses: experimental procedures, assays, instruments, statistical methods, and analysis pipelines.

From the following section of the paper, extract each technique with supporting verbatim quotes. Copy quotes exactly as written, including any in-text citations.

Respond with a valid JSON object:
{"items": [{"statement": "<technique and what it was used for>", "quotes": [{"text": "<verbatim excerpt>", "page": <page number>, "type": "explanatory|contextual|methodological|technical"}]}]}

If this section contains no techniques, respond with {"items": []}.

Page markers like [page 3] in the text give the page number for quotes.

Paper section:
%s`

const findingsPrompt = `You are screening a scientific paper for a systematic literature review.

Identify every FINDING the paper reports: results, effect directions and sizes, and the authors' principal conclusions.

From the following section of the paper, extract each finding with supporting verbatim quotes. Copy quotes exactly as written, including any in-text citations.

Respond with a valid JSON object:
{"items": [{"statement": "<one-sentence finding>", "quotes": [{"text": "<verbatim excerpt>", "page": <page number>, "type": "explanatory|contextual|methodological|technical"}]}]}

If this section contains no findings, respond with {"items": []}.

Page markers like [page 3] in the text give the page number for quotes.

Paper section:
%s`

// feedbackSuffix is appended to a re-extraction prompt with the previous
// attempt's validation issues.
const feedbackSuffix = `

Your previous response had these problems; correct them:
%s`
